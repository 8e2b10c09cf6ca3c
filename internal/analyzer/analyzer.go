// Package analyzer mines the span window implicated by a firing alert:
// error-pattern clusters, affected endpoints and models, time
// distribution, and bucket-level anomalies. Every run recomputes from
// storage; nothing here is cached or persisted.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/stats"
	"github.com/spanlight/spanlight/internal/storage"
	"github.com/spanlight/spanlight/internal/tuning"
)

// Analyzer runs trace window analysis over the span store.
type Analyzer struct {
	spans  storage.SpanRepository
	tuning *tuning.Source
}

// New creates an analyzer. The tuning source supplies the heuristic
// knobs per run so a reload applies to the next analysis.
func New(spans storage.SpanRepository, source *tuning.Source) *Analyzer {
	return &Analyzer{spans: spans, tuning: source}
}

// Analyze loads up to the configured span cap for the window, most
// recent first, and computes the full analysis. An over-full window
// truncates to the most recent spans and sets Truncated rather than
// failing. Pure read; safe to retry.
func (a *Analyzer) Analyze(ctx context.Context, in models.TraceAnalysisInput) (*models.TraceAnalysisOutput, error) {
	cfg := a.tuning.Current().Analyzer
	started := time.Now()

	spans, err := a.spans.QueryWindow(ctx, in.ProjectID, in.WindowStart, in.WindowEnd, cfg.SpanCap)
	if err != nil {
		return nil, fmt.Errorf("query window spans: %w", err)
	}

	truncated := false
	if len(spans) == cfg.SpanCap {
		total, err := a.spans.Count(ctx, &storage.SpanFilter{
			ProjectID: in.ProjectID,
			StartTime: in.WindowStart,
			EndTime:   in.WindowEnd,
		})
		if err != nil {
			// The analysis itself is intact either way.
			log.Printf("analyzer: count window spans: %v", err)
		}
		truncated = total > int64(cfg.SpanCap)
	}

	summary := summarize(spans)
	out := &models.TraceAnalysisOutput{
		Input:             in,
		Summary:           summary,
		ErrorPatterns:     clusterErrors(spans, cfg.MaxErrorPatterns, cfg.MaxSamplesPerPattern, cfg.MessageTruncateLen),
		AffectedEndpoints: aggregateEndpoints(spans, cfg.MaxEndpoints),
		AffectedModels:    aggregateModels(spans, cfg.MaxModels),
		TimeDistribution:  bucketize(spans, in.WindowStart, in.WindowEnd, time.Duration(cfg.BucketMins)*time.Minute),
		Truncated:         truncated,
	}
	out.Anomalies = detectAnomalies(out.TimeDistribution, in.AlertType, summary.MeanLatency, &cfg)

	log.Printf("analyzer: project %s window [%s, %s]: %d spans, %d errors, %d patterns, %d anomalies in %s",
		in.ProjectID, in.WindowStart.Format(time.RFC3339), in.WindowEnd.Format(time.RFC3339),
		summary.TotalSpans, summary.ErrorCount, len(out.ErrorPatterns), len(out.Anomalies),
		time.Since(started).Round(time.Millisecond))
	return out, nil
}

// summarize computes the window-wide statistics. Zero-division guards
// return 0: an empty window is all zeros, never an error.
func summarize(spans []*models.Span) models.TraceAnalysisSummary {
	var s models.TraceAnalysisSummary
	s.TotalSpans = len(spans)
	if len(spans) == 0 {
		return s
	}

	traces := make(map[string]bool)
	var latencies []float64
	var latencySum float64

	for _, span := range spans {
		if span.TraceID != "" {
			traces[span.TraceID] = true
		}
		if span.IsError() {
			s.ErrorCount++
		}
		if span.Completed() {
			ms := span.LatencyMs()
			latencies = append(latencies, ms)
			latencySum += ms
		}
	}

	s.TotalTraces = len(traces)
	s.ErrorRate = float64(s.ErrorCount) / float64(s.TotalSpans) * 100

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		s.LatencyP50 = stats.PercentileSorted(latencies, 50)
		s.LatencyP95 = stats.PercentileSorted(latencies, 95)
		s.LatencyP99 = stats.PercentileSorted(latencies, 99)
		s.MeanLatency = latencySum / float64(len(latencies))
	}
	return s
}

// aggregateEndpoints groups spans by name and ranks by error count.
func aggregateEndpoints(spans []*models.Span, limit int) []models.AffectedEndpoint {
	type acc struct {
		name      string
		errors    int
		total     int
		latencies []float64
	}

	byName := make(map[string]*acc)
	for _, span := range spans {
		if span.Name == "" {
			continue
		}
		a, ok := byName[span.Name]
		if !ok {
			a = &acc{name: span.Name}
			byName[span.Name] = a
		}
		a.total++
		if span.IsError() {
			a.errors++
		}
		if span.Completed() {
			a.latencies = append(a.latencies, span.LatencyMs())
		}
	}

	ordered := make([]*acc, 0, len(byName))
	for _, a := range byName {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].errors != ordered[j].errors {
			return ordered[i].errors > ordered[j].errors
		}
		if ordered[i].total != ordered[j].total {
			return ordered[i].total > ordered[j].total
		}
		return ordered[i].name < ordered[j].name
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	endpoints := make([]models.AffectedEndpoint, 0, len(ordered))
	for _, a := range ordered {
		endpoints = append(endpoints, models.AffectedEndpoint{
			Name:       a.name,
			ErrorCount: a.errors,
			TotalCount: a.total,
			ErrorRate:  float64(a.errors) / float64(a.total) * 100,
			LatencyP95: stats.Percentile(a.latencies, 95),
		})
	}
	return endpoints
}

// aggregateModels groups LLM spans by model and ranks by error count.
func aggregateModels(spans []*models.Span, limit int) []models.AffectedModel {
	type acc struct {
		model      string
		errors     int
		total      int
		latencySum float64
		completed  int
		tokens     int64
		cost       float64
	}

	byModel := make(map[string]*acc)
	for _, span := range spans {
		if span.Model == "" {
			continue
		}
		a, ok := byModel[span.Model]
		if !ok {
			a = &acc{model: span.Model}
			byModel[span.Model] = a
		}
		a.total++
		if span.IsError() {
			a.errors++
		}
		if span.Completed() {
			a.latencySum += span.LatencyMs()
			a.completed++
		}
		a.tokens += span.TotalTokens()
		a.cost += span.TotalCost
	}

	ordered := make([]*acc, 0, len(byModel))
	for _, a := range byModel {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].errors != ordered[j].errors {
			return ordered[i].errors > ordered[j].errors
		}
		if ordered[i].total != ordered[j].total {
			return ordered[i].total > ordered[j].total
		}
		return ordered[i].model < ordered[j].model
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	out := make([]models.AffectedModel, 0, len(ordered))
	for _, a := range ordered {
		m := models.AffectedModel{
			Model:      a.model,
			ErrorCount: a.errors,
			TotalCount: a.total,
			ErrorRate:  float64(a.errors) / float64(a.total) * 100,
			AvgTokens:  float64(a.tokens) / float64(a.total),
			TotalCost:  a.cost,
		}
		if a.completed > 0 {
			m.AvgLatency = a.latencySum / float64(a.completed)
		}
		out = append(out, m)
	}
	return out
}
