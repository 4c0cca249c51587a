package config

import "time"

// Default values applied to any field left zero after loading.  Keeping them
// in one const block makes the effective out-of-box behavior auditable.
const (
	DefaultServerPort            = 8080
	DefaultServerMode            = "release"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 30 * time.Second
	DefaultServerMaxBodySize     = int64(8 << 20) // 8 MiB
	DefaultServerShutdownTimeout = 20 * time.Second

	DefaultDatabasePort            = 5432
	DefaultDatabaseSSLMode         = "disable"
	DefaultDatabaseMaxConns        = 20
	DefaultDatabaseMinConns        = 2
	DefaultDatabaseConnMaxLifetime = time.Hour
	DefaultDatabaseConnMaxIdleTime = 30 * time.Minute
	DefaultDatabaseMigrationPath   = "migrations/postgres"

	DefaultNeo4jPoolSize          = 50
	DefaultNeo4jConnectionTimeout = 10 * time.Second
	DefaultNeo4jDatabase          = "neo4j"

	DefaultRedisPoolSize     = 20
	DefaultRedisMinIdleConns = 2
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second
	DefaultRedisTTL          = 10 * time.Minute
	DefaultRedisKeyPrefix    = "athene"

	DefaultKafkaGroupID           = "athene-workers"
	DefaultKafkaAutoOffsetReset   = "earliest"
	DefaultKafkaTimeoutMS         = 10000
	DefaultKafkaProducerRetries   = 3
	DefaultKafkaBatchSize         = 100
	DefaultKafkaReplicationFactor = 1
	DefaultKafkaNumPartitions     = 3

	DefaultOpenSearchBulkBatchSize = 500
	DefaultOpenSearchIndexPrefix   = "athene"

	DefaultMilvusDBName             = "default"
	DefaultMilvusEmbeddingDim       = 768
	DefaultMilvusIndexType          = "HNSW"
	DefaultMilvusHNSWM              = 16
	DefaultMilvusHNSWEfConstruction = 200
	DefaultMilvusTopK               = 20
	DefaultMilvusCollectionPrefix   = "athene"

	DefaultLLMModel          = "gpt-4o-mini"
	DefaultLLMEmbeddingModel = "text-embedding-3-small"
	DefaultLLMTimeout        = 60 * time.Second
	DefaultLLMMaxRetries     = 2

	DefaultResolutionAutoMerge   = 0.95
	DefaultResolutionReview      = 0.82
	DefaultVerifierBatchSize     = 20
	DefaultVerifierMaxPairs      = 40
	DefaultVerifierTimeout       = 30 * time.Second
	DefaultEmbedTimeout          = 30 * time.Second
	DefaultResolutionLockTTL     = 10 * time.Minute
	DefaultSemanticThreshold     = 0.7
	DefaultCoOccurrenceThreshold = 2
	DefaultAppliesToThreshold    = 2
	DefaultAddressesThreshold    = 1
	DefaultMaxSupportingDocs     = 10
	DefaultMinClusters           = 3
	DefaultMaxClusters           = 10
	DefaultPotentialEdgeScore    = 0.3
	DefaultMaxPotentialEdges     = 5
	DefaultTopGapEdges           = 10
	DefaultMaxBridges            = 5
	DefaultGapAnalysisSeed       = int64(1)

	DefaultWorkerConcurrency  = 4
	DefaultWorkerMaxRetries   = 3
	DefaultWorkerRetryBackoff = 5 * time.Second
	DefaultWorkerHeartbeat    = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
)

// ApplyDefaults fills every zero-valued field with its default.  Explicitly
// configured values are never overwritten.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Mode == "" {
		c.Server.Mode = DefaultServerMode
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = DefaultServerMaxBodySize
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	if c.Database.Port == 0 {
		c.Database.Port = DefaultDatabasePort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDatabaseSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultDatabaseMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultDatabaseMinConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DefaultDatabaseConnMaxLifetime
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = DefaultDatabaseConnMaxIdleTime
	}
	if c.Database.MigrationPath == "" {
		c.Database.MigrationPath = DefaultDatabaseMigrationPath
	}

	if c.Neo4j.MaxConnectionPoolSize == 0 {
		c.Neo4j.MaxConnectionPoolSize = DefaultNeo4jPoolSize
	}
	if c.Neo4j.ConnectionTimeout == 0 {
		c.Neo4j.ConnectionTimeout = DefaultNeo4jConnectionTimeout
	}
	if c.Neo4j.Database == "" {
		c.Neo4j.Database = DefaultNeo4jDatabase
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultRedisPoolSize
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = DefaultRedisMinIdleConns
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = DefaultRedisReadTimeout
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = DefaultRedisWriteTimeout
	}
	if c.Redis.DefaultTTL == 0 {
		c.Redis.DefaultTTL = DefaultRedisTTL
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = DefaultKafkaGroupID
	}
	if c.Kafka.AutoOffsetReset == "" {
		c.Kafka.AutoOffsetReset = DefaultKafkaAutoOffsetReset
	}
	if c.Kafka.TimeoutMS == 0 {
		c.Kafka.TimeoutMS = DefaultKafkaTimeoutMS
	}
	if c.Kafka.ProducerRetries == 0 {
		c.Kafka.ProducerRetries = DefaultKafkaProducerRetries
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = DefaultKafkaBatchSize
	}
	if c.Kafka.ReplicationFactor == 0 {
		c.Kafka.ReplicationFactor = DefaultKafkaReplicationFactor
	}
	if c.Kafka.NumPartitions == 0 {
		c.Kafka.NumPartitions = DefaultKafkaNumPartitions
	}

	if c.OpenSearch.BulkBatchSize == 0 {
		c.OpenSearch.BulkBatchSize = DefaultOpenSearchBulkBatchSize
	}
	if c.OpenSearch.IndexPrefix == "" {
		c.OpenSearch.IndexPrefix = DefaultOpenSearchIndexPrefix
	}

	if c.Milvus.DBName == "" {
		c.Milvus.DBName = DefaultMilvusDBName
	}
	if c.Milvus.EmbeddingDim == 0 {
		c.Milvus.EmbeddingDim = DefaultMilvusEmbeddingDim
	}
	if c.Milvus.IndexType == "" {
		c.Milvus.IndexType = DefaultMilvusIndexType
	}
	if c.Milvus.HNSWM == 0 {
		c.Milvus.HNSWM = DefaultMilvusHNSWM
	}
	if c.Milvus.HNSWEfConstruction == 0 {
		c.Milvus.HNSWEfConstruction = DefaultMilvusHNSWEfConstruction
	}
	if c.Milvus.DefaultTopK == 0 {
		c.Milvus.DefaultTopK = DefaultMilvusTopK
	}
	if c.Milvus.CollectionPrefix == "" {
		c.Milvus.CollectionPrefix = DefaultMilvusCollectionPrefix
	}

	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}
	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = DefaultLLMEmbeddingModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = DefaultLLMMaxRetries
	}

	if c.Pipeline.Resolution.AutoMergeThreshold == 0 {
		c.Pipeline.Resolution.AutoMergeThreshold = DefaultResolutionAutoMerge
	}
	if c.Pipeline.Resolution.ReviewThreshold == 0 {
		c.Pipeline.Resolution.ReviewThreshold = DefaultResolutionReview
	}
	if c.Pipeline.Resolution.VerifierBatchSize == 0 {
		c.Pipeline.Resolution.VerifierBatchSize = DefaultVerifierBatchSize
	}
	if c.Pipeline.Resolution.VerifierMaxPairs == 0 {
		c.Pipeline.Resolution.VerifierMaxPairs = DefaultVerifierMaxPairs
	}
	if c.Pipeline.Resolution.VerifierTimeout == 0 {
		c.Pipeline.Resolution.VerifierTimeout = DefaultVerifierTimeout
	}
	if c.Pipeline.Resolution.EmbedTimeout == 0 {
		c.Pipeline.Resolution.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.Pipeline.Resolution.LockTTL == 0 {
		c.Pipeline.Resolution.LockTTL = DefaultResolutionLockTTL
	}
	if c.Pipeline.Relationships.SemanticThreshold == 0 {
		c.Pipeline.Relationships.SemanticThreshold = DefaultSemanticThreshold
	}
	if c.Pipeline.Relationships.CoOccurrenceThreshold == 0 {
		c.Pipeline.Relationships.CoOccurrenceThreshold = DefaultCoOccurrenceThreshold
	}
	if c.Pipeline.Relationships.AppliesToThreshold == 0 {
		c.Pipeline.Relationships.AppliesToThreshold = DefaultAppliesToThreshold
	}
	if c.Pipeline.Relationships.AddressesThreshold == 0 {
		c.Pipeline.Relationships.AddressesThreshold = DefaultAddressesThreshold
	}
	if c.Pipeline.Relationships.MaxSupportingDocs == 0 {
		c.Pipeline.Relationships.MaxSupportingDocs = DefaultMaxSupportingDocs
	}
	if c.Pipeline.GapAnalysis.MinClusters == 0 {
		c.Pipeline.GapAnalysis.MinClusters = DefaultMinClusters
	}
	if c.Pipeline.GapAnalysis.MaxClusters == 0 {
		c.Pipeline.GapAnalysis.MaxClusters = DefaultMaxClusters
	}
	if c.Pipeline.GapAnalysis.PotentialEdgeThreshold == 0 {
		c.Pipeline.GapAnalysis.PotentialEdgeThreshold = DefaultPotentialEdgeScore
	}
	if c.Pipeline.GapAnalysis.MaxPotentialEdges == 0 {
		c.Pipeline.GapAnalysis.MaxPotentialEdges = DefaultMaxPotentialEdges
	}
	if c.Pipeline.GapAnalysis.TopGapEdges == 0 {
		c.Pipeline.GapAnalysis.TopGapEdges = DefaultTopGapEdges
	}
	if c.Pipeline.GapAnalysis.MaxBridges == 0 {
		c.Pipeline.GapAnalysis.MaxBridges = DefaultMaxBridges
	}
	if c.Pipeline.GapAnalysis.Seed == 0 {
		c.Pipeline.GapAnalysis.Seed = DefaultGapAnalysisSeed
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = DefaultWorkerMaxRetries
	}
	if c.Worker.RetryBackoff == 0 {
		c.Worker.RetryBackoff = DefaultWorkerRetryBackoff
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = DefaultWorkerHeartbeat
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.Output == "" {
		c.Log.Output = DefaultLogOutput
	}
}
