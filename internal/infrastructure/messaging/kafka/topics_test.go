package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

type mockConn struct {
	created    []kafka.TopicConfig
	createErr  error
	partitions map[string][]kafka.Partition
}

func (m *mockConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, topics...)
	return nil
}

func (m *mockConn) DeleteTopics(_ ...string) error { return nil }

func (m *mockConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if len(topics) == 0 {
		var all []kafka.Partition
		for _, ps := range m.partitions {
			all = append(all, ps...)
		}
		return all, nil
	}
	var out []kafka.Partition
	for _, t := range topics {
		out = append(out, m.partitions[t]...)
	}
	return out, nil
}

func (m *mockConn) Close() error { return nil }

func TestJobEnvelope_RoundTrip(t *testing.T) {
	env, err := NewJobEnvelope(JobTypeResolve, "proj-1", "apiserver", ResolveJobPayload{
		ProjectID:   "proj-1",
		DocumentIDs: []string{"doc-1", "doc-2"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.JobID)
	assert.Equal(t, "v1", env.SchemaVersion)

	msg, err := env.ToMessage(TopicResolveJobs)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", string(msg.Key))
	assert.Equal(t, JobTypeResolve, msg.Headers["job_type"])

	decoded, err := EnvelopeFromMessage(&Message{Topic: msg.Topic, Value: msg.Value})
	require.NoError(t, err)

	var payload ResolveJobPayload
	require.NoError(t, decoded.DecodePayload(&payload))
	assert.Equal(t, []string{"doc-1", "doc-2"}, payload.DocumentIDs)
}

func TestJobEnvelope_DecodeEmptyPayload(t *testing.T) {
	env := &JobEnvelope{}
	var payload ResolveJobPayload
	assert.Error(t, env.DecodePayload(&payload))
}

func TestEnvelopeFromMessage_Invalid(t *testing.T) {
	_, err := EnvelopeFromMessage(&Message{})
	assert.Error(t, err)

	_, err = EnvelopeFromMessage(&Message{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestTopicManager_EnsureTopics(t *testing.T) {
	conn := &mockConn{}
	m := NewTopicManagerWithConn(conn, config.KafkaConfig{NumPartitions: 6, ReplicationFactor: 3}, logging.NewNopLogger())

	require.NoError(t, m.EnsureTopics(context.Background()))
	assert.Len(t, conn.created, len(topicRetention))
	for _, tc := range conn.created {
		assert.Equal(t, 6, tc.NumPartitions)
		assert.Equal(t, 3, tc.ReplicationFactor)
		require.Len(t, tc.ConfigEntries, 1)
		assert.Equal(t, "retention.ms", tc.ConfigEntries[0].ConfigName)
	}
}

func TestTopicManager_EnsureTopics_ExistingTopic(t *testing.T) {
	conn := &mockConn{
		createErr: stderrors.New("topic already exists"),
		partitions: map[string][]kafka.Partition{
			TopicResolveJobs:       {{Topic: TopicResolveJobs}},
			TopicAnalyzeJobs:       {{Topic: TopicAnalyzeJobs}},
			TopicGraphUpdated:      {{Topic: TopicGraphUpdated}},
			TopicAnalysisCompleted: {{Topic: TopicAnalysisCompleted}},
			TopicDeadLetter:        {{Topic: TopicDeadLetter}},
		},
	}
	m := NewTopicManagerWithConn(conn, config.KafkaConfig{}, logging.NewNopLogger())
	assert.NoError(t, m.EnsureTopics(context.Background()))
}

func TestTopicManager_ListTopics(t *testing.T) {
	conn := &mockConn{
		partitions: map[string][]kafka.Partition{
			TopicResolveJobs: {{Topic: TopicResolveJobs}, {Topic: TopicResolveJobs}},
			TopicDeadLetter:  {{Topic: TopicDeadLetter}},
		},
	}
	m := NewTopicManagerWithConn(conn, config.KafkaConfig{}, logging.NewNopLogger())

	topics, err := m.ListTopics(context.Background())
	require.NoError(t, err)
	assert.Len(t, topics, 2)
	assert.Contains(t, topics, TopicResolveJobs)
	assert.Contains(t, topics, TopicDeadLetter)
}
