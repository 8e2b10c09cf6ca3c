package models

import "time"

// TraceAnalysisSummary holds window-wide statistics computed from the
// spans implicated by a firing alert.
type TraceAnalysisSummary struct {
	TotalTraces int     `json:"total_traces"`
	TotalSpans  int     `json:"total_spans"`
	ErrorCount  int     `json:"error_count"`
	ErrorRate   float64 `json:"error_rate"`
	LatencyP50  float64 `json:"latency_p50"`
	LatencyP95  float64 `json:"latency_p95"`
	LatencyP99  float64 `json:"latency_p99"`
	MeanLatency float64 `json:"mean_latency"`
}

// ErrorPattern is a cluster of ERROR spans sharing a normalized
// status message.
type ErrorPattern struct {
	Pattern       string   `json:"pattern"`
	Count         int      `json:"count"`
	Percentage    float64  `json:"percentage"`
	SampleSpanIDs []string `json:"sample_span_ids"`
	StackTrace    string   `json:"stack_trace,omitempty"`
}

// AffectedEndpoint aggregates error statistics for one span name.
type AffectedEndpoint struct {
	Name       string  `json:"name"`
	ErrorCount int     `json:"error_count"`
	TotalCount int     `json:"total_count"`
	ErrorRate  float64 `json:"error_rate"`
	LatencyP95 float64 `json:"latency_p95"`
}

// AffectedModel aggregates error and cost statistics for one LLM model.
type AffectedModel struct {
	Model      string  `json:"model"`
	ErrorCount int     `json:"error_count"`
	TotalCount int     `json:"total_count"`
	ErrorRate  float64 `json:"error_rate"`
	AvgLatency float64 `json:"avg_latency"`
	AvgTokens  float64 `json:"avg_tokens"`
	TotalCost  float64 `json:"total_cost"`
}

// TimeBucket is a fixed-width slice of the analysis window. Buckets
// with no spans are still present with zero counts.
type TimeBucket struct {
	Start      time.Time `json:"start"`
	SpanCount  int       `json:"span_count"`
	ErrorCount int       `json:"error_count"`
	AvgLatency float64   `json:"avg_latency"`
}

// AnomalyType classifies a detected anomaly.
type AnomalyType string

const (
	AnomalyErrorBurst     AnomalyType = "error_burst"
	AnomalyLatencySpike   AnomalyType = "latency_spike"
	AnomalyThroughputDrop AnomalyType = "throughput_drop"
)

// AnomalySeverity grades how far a bucket deviates from the window.
type AnomalySeverity string

const (
	AnomalySeverityMedium AnomalySeverity = "medium"
	AnomalySeverityHigh   AnomalySeverity = "high"
)

// Anomaly flags one bucket that deviates from the window average.
type Anomaly struct {
	Type        AnomalyType     `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
	Severity    AnomalySeverity `json:"severity"`
}

// TraceAnalysisInput identifies the window a firing alert implicates.
type TraceAnalysisInput struct {
	ProjectID   string    `json:"project_id"`
	AlertType   AlertType `json:"alert_type"`
	AlertValue  float64   `json:"alert_value"`
	Threshold   float64   `json:"threshold"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// TraceAnalysisOutput is the full product of one analysis run. It is
// recomputed per call and never cached.
type TraceAnalysisOutput struct {
	Input             TraceAnalysisInput   `json:"input"`
	Summary           TraceAnalysisSummary `json:"summary"`
	ErrorPatterns     []ErrorPattern       `json:"error_patterns"`
	AffectedEndpoints []AffectedEndpoint   `json:"affected_endpoints"`
	AffectedModels    []AffectedModel      `json:"affected_models"`
	TimeDistribution  []TimeBucket         `json:"time_distribution"`
	Anomalies         []Anomaly            `json:"anomalies"`
	Truncated         bool                 `json:"truncated"`
}
