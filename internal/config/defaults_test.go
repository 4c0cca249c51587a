package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)
	assert.Equal(t, DefaultDatabasePort, cfg.Database.Port)
	assert.Equal(t, DefaultDatabaseMaxConns, cfg.Database.MaxConns)
	assert.Equal(t, DefaultNeo4jDatabase, cfg.Neo4j.Database)
	assert.Equal(t, DefaultRedisKeyPrefix, cfg.Redis.KeyPrefix)
	assert.Equal(t, DefaultKafkaGroupID, cfg.Kafka.GroupID)
	assert.Equal(t, DefaultMilvusEmbeddingDim, cfg.Milvus.EmbeddingDim)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, DefaultResolutionAutoMerge, cfg.Pipeline.Resolution.AutoMergeThreshold)
	assert.Equal(t, DefaultResolutionReview, cfg.Pipeline.Resolution.ReviewThreshold)
	assert.Equal(t, DefaultVerifierMaxPairs, cfg.Pipeline.Resolution.VerifierMaxPairs)
	assert.Equal(t, DefaultSemanticThreshold, cfg.Pipeline.Relationships.SemanticThreshold)
	assert.Equal(t, DefaultMaxClusters, cfg.Pipeline.GapAnalysis.MaxClusters)
	assert.Equal(t, DefaultGapAnalysisSeed, cfg.Pipeline.GapAnalysis.Seed)
	assert.Equal(t, DefaultWorkerConcurrency, cfg.Worker.Concurrency)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 9090, ReadTimeout: 2 * time.Second},
		Database: DatabaseConfig{MaxConns: 50},
		Pipeline: PipelineConfig{
			Resolution: ResolutionConfig{AutoMergeThreshold: 0.9},
		},
		Log: LogConfig{Level: "debug"},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 50, cfg.Database.MaxConns)
	assert.Equal(t, 0.9, cfg.Pipeline.Resolution.AutoMergeThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched siblings still get defaults.
	assert.Equal(t, DefaultServerWriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, DefaultResolutionReview, cfg.Pipeline.Resolution.ReviewThreshold)
}
