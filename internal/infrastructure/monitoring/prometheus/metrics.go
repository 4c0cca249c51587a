package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every metric family the engine emits.  One instance is
// built at startup and threaded through the application services.
type AppMetrics struct {
	// HTTP surface
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Entity resolution
	ResolutionRunsTotal     CounterVec
	ResolutionRunDuration   HistogramVec
	ResolutionMergesTotal   CounterVec
	ResolutionPairsVerified CounterVec

	// Relationship building
	RelationshipsBuiltTotal   CounterVec
	RelationshipBuildDuration HistogramVec

	// Gap analysis
	AnalysisRunsTotal   CounterVec
	AnalysisRunDuration HistogramVec
	GapsDetected        HistogramVec
	ClustersProduced    HistogramVec

	// Graph store
	GraphNodesTotal    GaugeVec
	GraphEdgesTotal    GaugeVec
	GraphQueryDuration HistogramVec
	GraphWriteDuration HistogramVec

	// LLM backend
	LLMRequestsTotal   CounterVec
	LLMRequestDuration HistogramVec
	LLMTokensUsed      CounterVec

	// Infrastructure
	DBQueryDuration  HistogramVec
	CacheHitsTotal   CounterVec
	CacheMissesTotal CounterVec

	// Job pipeline
	JobsTotal       CounterVec
	JobDuration     HistogramVec
	JobRetriesTotal CounterVec
	ConsumerLag     GaugeVec

	// Health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

var (
	httpDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	runDurationBuckets  = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800}
	llmDurationBuckets  = []float64{.5, 1, 2, 5, 10, 30, 60, 120}
	dbDurationBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
	countBuckets        = []float64{0, 1, 2, 5, 10, 25, 50, 100, 250}
)

// NewAppMetrics registers the full metric set on the collector.
func NewAppMetrics(c MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = c.RegisterCounter("http_requests_total", "HTTP requests served", "method", "path", "status_code")
	m.HTTPRequestDuration = c.RegisterHistogram("http_request_duration_seconds", "HTTP request latency", httpDurationBuckets, "method", "path")
	m.HTTPActiveRequests = c.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method")

	m.ResolutionRunsTotal = c.RegisterCounter("resolution_runs_total", "Entity resolution runs", "status")
	m.ResolutionRunDuration = c.RegisterHistogram("resolution_run_duration_seconds", "Entity resolution run duration", runDurationBuckets)
	m.ResolutionMergesTotal = c.RegisterCounter("resolution_merges_total", "Entity merges applied", "decision")
	m.ResolutionPairsVerified = c.RegisterCounter("resolution_pairs_verified_total", "Candidate pairs sent to the verifier", "outcome")

	m.RelationshipsBuiltTotal = c.RegisterCounter("relationships_built_total", "Relationships written", "type")
	m.RelationshipBuildDuration = c.RegisterHistogram("relationship_build_duration_seconds", "Relationship building duration", runDurationBuckets)

	m.AnalysisRunsTotal = c.RegisterCounter("analysis_runs_total", "Gap analysis runs", "status")
	m.AnalysisRunDuration = c.RegisterHistogram("analysis_run_duration_seconds", "Gap analysis run duration", runDurationBuckets)
	m.GapsDetected = c.RegisterHistogram("analysis_gaps_detected", "Structural gaps found per run", countBuckets)
	m.ClustersProduced = c.RegisterHistogram("analysis_clusters_produced", "Concept clusters per run", countBuckets)

	m.GraphNodesTotal = c.RegisterGauge("graph_nodes_total", "Entities in the graph", "entity_type")
	m.GraphEdgesTotal = c.RegisterGauge("graph_edges_total", "Relationships in the graph", "relationship_type")
	m.GraphQueryDuration = c.RegisterHistogram("graph_query_duration_seconds", "Graph read latency", dbDurationBuckets, "operation")
	m.GraphWriteDuration = c.RegisterHistogram("graph_write_duration_seconds", "Graph write latency", dbDurationBuckets, "operation")

	m.LLMRequestsTotal = c.RegisterCounter("llm_requests_total", "LLM backend calls", "model", "operation", "status")
	m.LLMRequestDuration = c.RegisterHistogram("llm_request_duration_seconds", "LLM backend latency", llmDurationBuckets, "model", "operation")
	m.LLMTokensUsed = c.RegisterCounter("llm_tokens_total", "LLM tokens consumed", "model", "direction")

	m.DBQueryDuration = c.RegisterHistogram("db_query_duration_seconds", "Relational store latency", dbDurationBuckets, "operation")
	m.CacheHitsTotal = c.RegisterCounter("cache_hits_total", "Query cache hits", "cache")
	m.CacheMissesTotal = c.RegisterCounter("cache_misses_total", "Query cache misses", "cache")

	m.JobsTotal = c.RegisterCounter("jobs_total", "Pipeline jobs processed", "job_type", "status")
	m.JobDuration = c.RegisterHistogram("job_duration_seconds", "Pipeline job duration", runDurationBuckets, "job_type")
	m.JobRetriesTotal = c.RegisterCounter("job_retries_total", "Pipeline job retries", "job_type")
	m.ConsumerLag = c.RegisterGauge("consumer_lag", "Job consumer lag", "topic")

	m.HealthCheckStatus = c.RegisterGauge("health_check_status", "Component health (1=up, 0=down)", "component")
	m.ErrorsTotal = c.RegisterCounter("errors_total", "Errors by component", "component", "code")

	return m
}

// RecordHTTPRequest records one served request.
func (m *AppMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordResolutionRun records a finished resolution run.
func (m *AppMetrics) RecordResolutionRun(status string, duration time.Duration, merges int) {
	m.ResolutionRunsTotal.WithLabelValues(status).Inc()
	m.ResolutionRunDuration.WithLabelValues().Observe(duration.Seconds())
	m.ResolutionMergesTotal.WithLabelValues("merged").Add(float64(merges))
}

// RecordAnalysisRun records a finished gap-analysis run.
func (m *AppMetrics) RecordAnalysisRun(status string, duration time.Duration, clusters, gaps int) {
	m.AnalysisRunsTotal.WithLabelValues(status).Inc()
	m.AnalysisRunDuration.WithLabelValues().Observe(duration.Seconds())
	m.ClustersProduced.WithLabelValues().Observe(float64(clusters))
	m.GapsDetected.WithLabelValues().Observe(float64(gaps))
}

// RecordLLMCall records one call to the LLM backend.
func (m *AppMetrics) RecordLLMCall(model, operation string, err error, duration time.Duration, inputTokens, outputTokens int) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.LLMRequestsTotal.WithLabelValues(model, operation, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model, operation).Observe(duration.Seconds())
	m.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// RecordCacheAccess records a cache hit or miss.
func (m *AppMetrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordJob records a finished pipeline job.
func (m *AppMetrics) RecordJob(jobType, status string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetGraphSize updates the per-type node and edge gauges from a fresh
// stats read.  Keys are type names; absent types keep their last value.
func (m *AppMetrics) SetGraphSize(nodeCounts, edgeCounts map[string]int) {
	for t, n := range nodeCounts {
		m.GraphNodesTotal.WithLabelValues(t).Set(float64(n))
	}
	for t, n := range edgeCounts {
		m.GraphEdgesTotal.WithLabelValues(t).Set(float64(n))
	}
}

// SetComponentHealth flips a component's health gauge.
func (m *AppMetrics) SetComponentHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}
