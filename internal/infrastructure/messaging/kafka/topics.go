// Package kafka carries the job pipeline: the API server publishes pipeline
// jobs, workers consume them, and completion events fan out to downstream
// consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	// Job topics, consumed by the worker group.
	TopicResolveJobs = "athene.jobs.resolve"
	TopicAnalyzeJobs = "athene.jobs.analyze"

	// Event topics, published after a job finishes.
	TopicGraphUpdated      = "athene.events.graph_updated"
	TopicAnalysisCompleted = "athene.events.analysis_completed"

	// Jobs that exhaust their retries land here with the failure recorded
	// in headers.
	TopicDeadLetter = "athene.jobs.deadletter"
)

// Job types carried in JobEnvelope.JobType.
const (
	JobTypeResolve = "graph.resolve"
	JobTypeAnalyze = "graph.analyze"
)

// Event types carried in JobEnvelope.JobType on the event topics.
const (
	EventTypeGraphUpdated      = "graph.updated"
	EventTypeAnalysisCompleted = "analysis.completed"
)

// JobEnvelope is the wire format for every message on the job and event
// topics.  Payload holds the job-specific body; keying messages by project
// keeps one project's jobs on one partition, so a worker never interleaves
// two runs of the same project.
type JobEnvelope struct {
	JobID         string            `json:"job_id"`
	JobType       string            `json:"job_type"`
	ProjectID     string            `json:"project_id"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ResolveJobPayload asks a worker to run entity resolution and relationship
// building for a project.  The payload carries the full extraction batch so
// the worker needs no side channel; DocumentIDs records which documents the
// batch came from.
type ResolveJobPayload struct {
	ProjectID    string                      `json:"project_id"`
	Entities     []entity.Raw                `json:"entities,omitempty"`
	Embeddings   map[string][]float32        `json:"embeddings,omitempty"`
	SupportLinks []relationships.SupportLink `json:"support_links,omitempty"`
	DocumentIDs  []string                    `json:"document_ids,omitempty"`
	RequestedBy  string                      `json:"requested_by,omitempty"`
	RequestedAt  time.Time                   `json:"requested_at"`
}

// AnalyzeJobPayload asks a worker to run structural gap analysis.
// ClusterCount zero lets the analyzer pick the count from graph size.
type AnalyzeJobPayload struct {
	ProjectID    string    `json:"project_id"`
	ClusterCount int       `json:"cluster_count,omitempty"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// GraphUpdatedEvent announces that a project's graph was rewritten; query
// caches for the project are stale past this point.
type GraphUpdatedEvent struct {
	ProjectID         string    `json:"project_id"`
	EntitiesUpserted  int       `json:"entities_upserted"`
	RelationshipCount int       `json:"relationship_count"`
	MergesApplied     int       `json:"merges_applied"`
	CompletedAt       time.Time `json:"completed_at"`
}

// AnalysisCompletedEvent announces a finished gap-analysis run.
type AnalysisCompletedEvent struct {
	ProjectID    string    `json:"project_id"`
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	ClusterCount int       `json:"cluster_count"`
	GapCount     int       `json:"gap_count"`
	CompletedAt  time.Time `json:"completed_at"`
}

// NewJobEnvelope wraps a payload for publication.
func NewJobEnvelope(jobType, projectID, source string, payload interface{}) (*JobEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshaling job payload")
	}
	return &JobEnvelope{
		JobID:         uuid.NewString(),
		JobType:       jobType,
		ProjectID:     projectID,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the job body into target.
func (e *JobEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeJobDecodeFailed, "job envelope has no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeJobDecodeFailed, "decoding job payload")
	}
	return nil
}

// ToMessage serializes the envelope for the given topic, keyed by project.
func (e *JobEnvelope) ToMessage(topic string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshaling job envelope")
	}
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(e.ProjectID),
		Value: val,
		Headers: map[string]string{
			"job_type":       e.JobType,
			"source_service": e.Source,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

// EnvelopeFromMessage parses a consumed message back into an envelope.
func EnvelopeFromMessage(msg *Message) (*JobEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeJobDecodeFailed, "empty message value")
	}
	var env JobEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeJobDecodeFailed, "unmarshaling job envelope")
	}
	return &env, nil
}

// ConnInterface abstracts the kafka controller connection for tests.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	DeleteTopics(topics ...string) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates and inspects the pipeline topics.
type TopicManager struct {
	conn   ConnInterface
	cfg    config.KafkaConfig
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(cfg config.KafkaConfig, logger logging.Logger) (*TopicManager, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "dialing kafka broker")
	}
	return &TopicManager{conn: conn, cfg: cfg, logger: logger}, nil
}

// NewTopicManagerWithConn wraps an existing connection, for tests.
func NewTopicManagerWithConn(conn ConnInterface, cfg config.KafkaConfig, logger logging.Logger) *TopicManager {
	return &TopicManager{conn: conn, cfg: cfg, logger: logger}
}

// topicRetention tunes per-topic retention: job topics are short-lived,
// events and dead letters linger for inspection.
var topicRetention = map[string]time.Duration{
	TopicResolveJobs:       24 * time.Hour,
	TopicAnalyzeJobs:       24 * time.Hour,
	TopicGraphUpdated:      7 * 24 * time.Hour,
	TopicAnalysisCompleted: 7 * 24 * time.Hour,
	TopicDeadLetter:        30 * 24 * time.Hour,
}

// EnsureTopics creates every pipeline topic that does not already exist,
// using the configured partition and replication counts.
func (m *TopicManager) EnsureTopics(ctx context.Context) error {
	for topic, retention := range topicRetention {
		if err := m.createTopic(ctx, topic, retention); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) createTopic(ctx context.Context, name string, retention time.Duration) error {
	partitions := m.cfg.NumPartitions
	if partitions <= 0 {
		partitions = 3
	}
	replication := m.cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	err := m.conn.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries: []kafka.ConfigEntry{
			{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", retention.Milliseconds())},
		},
	})
	if err != nil {
		if exists, _ := m.TopicExists(ctx, name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeExternalService, "creating topic "+name)
	}
	m.logger.Info("topic created", logging.String("topic", name), logging.Int("partitions", partitions))
	return nil
}

// TopicExists reports whether the topic has at least one partition.
func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// ListTopics returns the distinct topic names the broker reports.
func (m *TopicManager) ListTopics(_ context.Context) ([]string, error) {
	partitions, err := m.conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "reading partitions")
	}
	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

// Close releases the controller connection.
func (m *TopicManager) Close() error { return m.conn.Close() }
