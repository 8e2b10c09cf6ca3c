package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/tuning"
)

// bucketize slices the window into fixed-width buckets aligned to the
// window start. Every bucket in the range is materialized: a bucket
// with no spans is a gap worth seeing, not absent data.
func bucketize(spans []*models.Span, start, end time.Time, width time.Duration) []models.TimeBucket {
	if !end.After(start) || width <= 0 {
		return []models.TimeBucket{}
	}

	n := int(end.Sub(start) / width)
	if start.Add(time.Duration(n)*width).Before(end) {
		n++ // trailing partial bucket
	}

	buckets := make([]models.TimeBucket, n)
	latencySums := make([]float64, n)
	latencyCounts := make([]int, n)

	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * width)
	}

	for _, span := range spans {
		idx := int(span.StartTime.Sub(start) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		buckets[idx].SpanCount++
		if span.IsError() {
			buckets[idx].ErrorCount++
		}
		if span.Completed() {
			latencySums[idx] += span.LatencyMs()
			latencyCounts[idx]++
		}
	}

	for i := range buckets {
		if latencyCounts[i] > 0 {
			buckets[i].AvgLatency = latencySums[i] / float64(latencyCounts[i])
		}
	}
	return buckets
}

// detectAnomalies compares each bucket against the window-wide
// averages. Latency spikes are only meaningful for latency alerts and
// only above an absolute floor; near-zero baselines stay quiet.
func detectAnomalies(buckets []models.TimeBucket, alertType models.AlertType, meanLatency float64, cfg *tuning.AnalyzerConfig) []models.Anomaly {
	if len(buckets) == 0 {
		return []models.Anomaly{}
	}

	totalSpans, totalErrors := 0, 0
	for _, b := range buckets {
		totalSpans += b.SpanCount
		totalErrors += b.ErrorCount
	}
	avgErrors := float64(totalErrors) / float64(len(buckets))
	avgThroughput := float64(totalSpans) / float64(len(buckets))

	var anomalies []models.Anomaly

	for i, b := range buckets {
		if b.ErrorCount > cfg.MinErrorsForBurst && float64(b.ErrorCount) > avgErrors*cfg.ErrorBurstMultiplier {
			severity := models.AnomalySeverityMedium
			if float64(b.ErrorCount) > avgErrors*cfg.ErrorBurstHighMultiplier {
				severity = models.AnomalySeverityHigh
			}
			anomalies = append(anomalies, models.Anomaly{
				Type:      models.AnomalyErrorBurst,
				Timestamp: b.Start,
				Severity:  severity,
				Description: fmt.Sprintf("%d errors in one bucket vs %.1f window average",
					b.ErrorCount, avgErrors),
			})
		}

		if alertType.IsLatency() && b.AvgLatency > cfg.MinLatencyForSpikeMs && meanLatency > 0 &&
			b.AvgLatency > meanLatency*cfg.LatencySpikeMultiplier {
			severity := models.AnomalySeverityMedium
			if b.AvgLatency > meanLatency*cfg.LatencySpikeHighMultiplier {
				severity = models.AnomalySeverityHigh
			}
			anomalies = append(anomalies, models.Anomaly{
				Type:      models.AnomalyLatencySpike,
				Timestamp: b.Start,
				Severity:  severity,
				Description: fmt.Sprintf("%.0fms average latency vs %.0fms window average",
					b.AvgLatency, meanLatency),
			})
		}

		// The trailing bucket may cover a partial interval; a low count
		// there is an artifact of the window edge, not a drop.
		if i == len(buckets)-1 {
			continue
		}
		if avgThroughput > cfg.MinBaselineThroughput && float64(b.SpanCount) < avgThroughput*cfg.ThroughputDropFraction {
			anomalies = append(anomalies, models.Anomaly{
				Type:      models.AnomalyThroughputDrop,
				Timestamp: b.Start,
				Severity:  models.AnomalySeverityMedium,
				Description: fmt.Sprintf("%d spans in one bucket vs %.1f window average",
					b.SpanCount, avgThroughput),
			})
		}
	}

	// High severity surfaces first; within a tier, chronological.
	sort.SliceStable(anomalies, func(i, j int) bool {
		if anomalies[i].Severity != anomalies[j].Severity {
			return anomalies[i].Severity == models.AnomalySeverityHigh
		}
		return anomalies[i].Timestamp.Before(anomalies[j].Timestamp)
	})
	if len(anomalies) > cfg.MaxAnomalies {
		anomalies = anomalies[:cfg.MaxAnomalies]
	}
	if anomalies == nil {
		anomalies = []models.Anomaly{}
	}
	return anomalies
}
