package kafka

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

type mockWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc func() error
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockWriter) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{}, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestProducer_Publish(t *testing.T) {
	var captured []kafka.Message
	p := NewProducerWithWriter(&mockWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs
			return nil
		},
	}, logging.NewNopLogger())

	err := p.Publish(context.Background(), &ProducerMessage{
		Topic:   TopicResolveJobs,
		Key:     []byte("proj-1"),
		Value:   []byte(`{"x":1}`),
		Headers: map[string]string{"job_type": JobTypeResolve},
	})
	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, TopicResolveJobs, captured[0].Topic)
	assert.Equal(t, "proj-1", string(captured[0].Key))
	assert.Len(t, captured[0].Headers, 1)

	sent, failed, _ := p.Metrics()
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(0), failed)
}

func TestProducer_Publish_Validation(t *testing.T) {
	p := NewProducerWithWriter(&mockWriter{}, logging.NewNopLogger())
	ctx := context.Background()

	assert.Error(t, p.Publish(ctx, &ProducerMessage{Value: []byte("v")}))
	assert.Error(t, p.Publish(ctx, &ProducerMessage{Topic: "t"}))
	assert.Error(t, p.Publish(ctx, &ProducerMessage{
		Topic: "t",
		Value: []byte(strings.Repeat("x", defaultMaxMessageBytes+1)),
	}))
}

func TestProducer_Publish_WriteFailure(t *testing.T) {
	p := NewProducerWithWriter(&mockWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return stderrors.New("broker down")
		},
	}, logging.NewNopLogger())

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.Error(t, err)
	_, failed, _ := p.Metrics()
	assert.Equal(t, int64(1), failed)
}

func TestProducer_PublishEnvelope(t *testing.T) {
	var captured []kafka.Message
	p := NewProducerWithWriter(&mockWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs
			return nil
		},
	}, logging.NewNopLogger())

	env, err := NewJobEnvelope(JobTypeAnalyze, "proj-7", "apiserver", AnalyzeJobPayload{
		ProjectID:   "proj-7",
		RequestedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, p.PublishEnvelope(context.Background(), TopicAnalyzeJobs, env))
	require.Len(t, captured, 1)
	assert.Equal(t, "proj-7", string(captured[0].Key))

	decoded, err := EnvelopeFromMessage(fromKafkaMessage(captured[0]))
	require.NoError(t, err)
	assert.Equal(t, env.JobID, decoded.JobID)
	assert.Equal(t, JobTypeAnalyze, decoded.JobType)
}

func TestProducer_ClosedRejectsPublish(t *testing.T) {
	p := NewProducerWithWriter(&mockWriter{}, logging.NewNopLogger())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrProducerClosed)
}
