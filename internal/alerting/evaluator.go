// Package alerting evaluates alert rules against rolling metric
// windows and owns the alert lifecycle state machine. All state
// mutation funnels through the Writer; evaluation itself is a pure
// read and safe to retry.
package alerting

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/stats"
	"github.com/spanlight/spanlight/internal/storage"
)

// MetricSource produces a trailing-window metric aggregate for one
// alert type. Implementations must treat an empty window as
// (0, 0, nil), not as an error.
type MetricSource interface {
	Metric(ctx context.Context, projectID string, alertType models.AlertType, start, end time.Time) (value float64, sampleCount int, err error)
}

// Result is the outcome of evaluating one alert against its window.
type Result struct {
	ConditionMet bool    `json:"condition_met"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
	SampleCount  int     `json:"sample_count"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// NoData reports whether the window held no samples. No data forces
// ConditionMet=false and is not an error.
func (r Result) NoData() bool {
	return r.SampleCount == 0
}

// EvaluatorStats tracks evaluator counters using atomic operations
// for lock-free access.
type EvaluatorStats struct {
	Evaluations  atomic.Int64
	ConditionMet atomic.Int64
	NoData       atomic.Int64
	Errors       atomic.Int64
}

// Evaluator computes alert conditions from a metric source. It holds
// no mutable alert state.
type Evaluator struct {
	source MetricSource
	stats  *EvaluatorStats
}

// NewEvaluator creates an evaluator backed by the given metric source.
func NewEvaluator(source MetricSource) *Evaluator {
	return &Evaluator{
		source: source,
		stats:  &EvaluatorStats{},
	}
}

// Evaluate evaluates an alert against its trailing window ending now.
func (e *Evaluator) Evaluate(ctx context.Context, alert *models.Alert) (Result, error) {
	return e.EvaluateAt(ctx, alert, time.Now())
}

// EvaluateAt evaluates an alert at a specific time (useful for testing).
// The window is [now - windowMins, now].
func (e *Evaluator) EvaluateAt(ctx context.Context, alert *models.Alert, now time.Time) (Result, error) {
	e.stats.Evaluations.Add(1)

	start := now.Add(-time.Duration(alert.WindowMins) * time.Minute)
	res := Result{
		Threshold:   alert.Threshold,
		WindowStart: start,
		WindowEnd:   now,
	}

	value, samples, err := e.source.Metric(ctx, alert.ProjectID, alert.Type, start, now)
	if err != nil {
		e.stats.Errors.Add(1)
		return res, fmt.Errorf("read %s metric for alert %s: %w", alert.Type, alert.ID, err)
	}

	res.Value = value
	res.SampleCount = samples

	// No data means no decision; an empty window never triggers.
	if samples == 0 {
		e.stats.NoData.Add(1)
		return res, nil
	}

	// Strict comparison: equality never triggers.
	switch alert.Operator {
	case models.OperatorLessThan:
		res.ConditionMet = value < alert.Threshold
	default:
		res.ConditionMet = value > alert.Threshold
	}

	if res.ConditionMet {
		e.stats.ConditionMet.Add(1)
	}
	return res, nil
}

// EvaluatorStatsSnapshot is a snapshot of evaluator counters.
type EvaluatorStatsSnapshot struct {
	Evaluations  int64
	ConditionMet int64
	NoData       int64
	Errors       int64
}

// Stats returns a snapshot of evaluator counters.
func (e *Evaluator) Stats() EvaluatorStatsSnapshot {
	return EvaluatorStatsSnapshot{
		Evaluations:  e.stats.Evaluations.Load(),
		ConditionMet: e.stats.ConditionMet.Load(),
		NoData:       e.stats.NoData.Load(),
		Errors:       e.stats.Errors.Load(),
	}
}

// SpanMetricSource computes alert metrics from the span store.
type SpanMetricSource struct {
	spans storage.SpanRepository
}

// NewSpanMetricSource creates a metric source over the span store.
func NewSpanMetricSource(spans storage.SpanRepository) *SpanMetricSource {
	return &SpanMetricSource{spans: spans}
}

// Metric returns the requested aggregate over [start, end].
//
// ERROR_RATE is errorSpans / totalSpans * 100 with sampleCount equal
// to the total span count. LATENCY_P* is the nearest-rank percentile
// of completed-span latencies in milliseconds with sampleCount equal
// to the completed span count.
func (s *SpanMetricSource) Metric(ctx context.Context, projectID string, alertType models.AlertType, start, end time.Time) (float64, int, error) {
	if alertType.IsLatency() {
		latencies, err := s.spans.Latencies(ctx, projectID, start, end)
		if err != nil {
			return 0, 0, fmt.Errorf("query latencies: %w", err)
		}
		if len(latencies) == 0 {
			return 0, 0, nil
		}
		return stats.Percentile(latencies, alertType.Percentile()), len(latencies), nil
	}

	total, errored, err := s.spans.ErrorCounts(ctx, projectID, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("query error counts: %w", err)
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(errored) / float64(total) * 100, int(total), nil
}
