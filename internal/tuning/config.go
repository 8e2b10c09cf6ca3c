// Package tuning holds the heuristic knobs for trace analysis and code
// correlation. Values load from an optional YAML file and can be
// reloaded at runtime without restarting evaluation.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AnalyzerConfig tunes the trace window analyzer.
type AnalyzerConfig struct {
	// SpanCap bounds how many spans one analysis run loads. Windows
	// with more spans truncate to the most recent.
	SpanCap int `yaml:"span_cap"`

	// BucketMins is the width of one time-distribution bucket.
	BucketMins int `yaml:"bucket_mins"`

	MaxErrorPatterns     int `yaml:"max_error_patterns"`
	MaxSamplesPerPattern int `yaml:"max_samples_per_pattern"`
	MaxEndpoints         int `yaml:"max_endpoints"`
	MaxModels            int `yaml:"max_models"`
	MaxAnomalies         int `yaml:"max_anomalies"`

	// MessageTruncateLen caps normalized error patterns, in runes.
	MessageTruncateLen int `yaml:"message_truncate_len"`

	// Error burst: bucket errors must exceed both the absolute floor
	// and multiplier * window average. The high multiplier escalates
	// severity.
	MinErrorsForBurst        int     `yaml:"min_errors_for_burst"`
	ErrorBurstMultiplier     float64 `yaml:"error_burst_multiplier"`
	ErrorBurstHighMultiplier float64 `yaml:"error_burst_high_multiplier"`

	// Latency spike: only checked for latency alerts, and only when
	// the bucket average clears the absolute floor.
	LatencySpikeMultiplier     float64 `yaml:"latency_spike_multiplier"`
	LatencySpikeHighMultiplier float64 `yaml:"latency_spike_high_multiplier"`
	MinLatencyForSpikeMs       float64 `yaml:"min_latency_for_spike_ms"`

	// Throughput drop: only checked when the window averages at least
	// MinBaselineThroughput spans per bucket.
	MinBaselineThroughput  float64 `yaml:"min_baseline_throughput"`
	ThroughputDropFraction float64 `yaml:"throughput_drop_fraction"`
}

// CorrelationConfig tunes the code correlation engine.
type CorrelationConfig struct {
	// LookbackDays bounds how far back commits and PRs are considered.
	LookbackDays int `yaml:"lookback_days"`

	// MaxCommits caps how many commits one run scores, most recent
	// first. MaxSuspects caps the retained ranked list.
	MaxCommits  int `yaml:"max_commits"`
	MaxSuspects int `yaml:"max_suspects"`

	// Semantic search parameters.
	TopKChunks    int     `yaml:"top_k_chunks"`
	MinSimilarity float64 `yaml:"min_similarity"`

	// MinScore drops suspects whose combined score falls below it.
	MinScore float64 `yaml:"min_score"`

	// Signal weights for the combined score.
	TemporalWeight float64 `yaml:"temporal_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	PathWeight     float64 `yaml:"path_weight"`

	// SampleFiles is how many changed files each suspect reports.
	SampleFiles int `yaml:"sample_files"`
}

// Config is the full tuning document.
type Config struct {
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Correlation CorrelationConfig `yaml:"correlation"`
}

// Default returns the built-in tuning values.
func Default() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			SpanCap:                    5000,
			BucketMins:                 5,
			MaxErrorPatterns:           10,
			MaxSamplesPerPattern:       3,
			MaxEndpoints:               20,
			MaxModels:                  10,
			MaxAnomalies:               10,
			MessageTruncateLen:         200,
			MinErrorsForBurst:          3,
			ErrorBurstMultiplier:       3,
			ErrorBurstHighMultiplier:   5,
			LatencySpikeMultiplier:     2,
			LatencySpikeHighMultiplier: 3,
			MinLatencyForSpikeMs:       500,
			MinBaselineThroughput:      5,
			ThroughputDropFraction:     0.3,
		},
		Correlation: CorrelationConfig{
			LookbackDays:   7,
			MaxCommits:     200,
			MaxSuspects:    10,
			TopKChunks:     10,
			MinSimilarity:  0.5,
			MinScore:       0.15,
			TemporalWeight: 0.40,
			SemanticWeight: 0.35,
			PathWeight:     0.25,
			SampleFiles:    5,
		},
	}
}

// Validate checks that the tuning values are usable.
func (c *Config) Validate() error {
	a := &c.Analyzer
	if a.SpanCap < 1 {
		return fmt.Errorf("analyzer.span_cap must be >= 1, got %d", a.SpanCap)
	}
	if a.BucketMins < 1 {
		return fmt.Errorf("analyzer.bucket_mins must be >= 1, got %d", a.BucketMins)
	}
	if a.MaxErrorPatterns < 1 || a.MaxEndpoints < 1 || a.MaxModels < 1 || a.MaxAnomalies < 1 {
		return fmt.Errorf("analyzer caps must be >= 1")
	}
	if a.MessageTruncateLen < 1 {
		return fmt.Errorf("analyzer.message_truncate_len must be >= 1, got %d", a.MessageTruncateLen)
	}
	if a.ErrorBurstMultiplier <= 0 || a.LatencySpikeMultiplier <= 0 {
		return fmt.Errorf("analyzer multipliers must be > 0")
	}
	if a.ThroughputDropFraction <= 0 || a.ThroughputDropFraction >= 1 {
		return fmt.Errorf("analyzer.throughput_drop_fraction must be in (0, 1), got %g", a.ThroughputDropFraction)
	}

	r := &c.Correlation
	if r.LookbackDays < 1 {
		return fmt.Errorf("correlation.lookback_days must be >= 1, got %d", r.LookbackDays)
	}
	if r.MaxCommits < 1 || r.MaxSuspects < 1 || r.TopKChunks < 1 {
		return fmt.Errorf("correlation caps must be >= 1")
	}
	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		return fmt.Errorf("correlation.min_similarity must be in [0, 1], got %g", r.MinSimilarity)
	}
	sum := r.TemporalWeight + r.SemanticWeight + r.PathWeight
	if sum <= 0 {
		return fmt.Errorf("correlation weights must sum to > 0, got %g", sum)
	}
	return nil
}

// Load reads a tuning file, applying file values over the defaults so
// a partial document is valid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses tuning YAML over the defaults.
func LoadBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tuning YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
