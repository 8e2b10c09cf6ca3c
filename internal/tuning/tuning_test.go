package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
}

func TestLoadBytes_PartialOverride(t *testing.T) {
	data := []byte(`
analyzer:
  span_cap: 1000
  min_errors_for_burst: 5
correlation:
  min_score: 0.25
`)

	cfg, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}

	if cfg.Analyzer.SpanCap != 1000 {
		t.Errorf("Expected span_cap 1000, got %d", cfg.Analyzer.SpanCap)
	}
	if cfg.Analyzer.MinErrorsForBurst != 5 {
		t.Errorf("Expected min_errors_for_burst 5, got %d", cfg.Analyzer.MinErrorsForBurst)
	}
	if cfg.Correlation.MinScore != 0.25 {
		t.Errorf("Expected min_score 0.25, got %v", cfg.Correlation.MinScore)
	}

	// Untouched values keep their defaults.
	if cfg.Analyzer.BucketMins != 5 {
		t.Errorf("Expected default bucket_mins 5, got %d", cfg.Analyzer.BucketMins)
	}
	if cfg.Correlation.TemporalWeight != 0.40 {
		t.Errorf("Expected default temporal_weight 0.40, got %v", cfg.Correlation.TemporalWeight)
	}
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "analyzer: ["},
		{"zero span cap", "analyzer:\n  span_cap: 0"},
		{"drop fraction out of range", "analyzer:\n  throughput_drop_fraction: 1.5"},
		{"similarity out of range", "correlation:\n  min_similarity: 2"},
		{"zero weights", "correlation:\n  temporal_weight: 0\n  semantic_weight: 0\n  path_weight: 0"},
	}

	for _, tt := range tests {
		if _, err := LoadBytes([]byte(tt.yaml)); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}

func TestNewSource_NoFile(t *testing.T) {
	src, err := NewSource("")
	if err != nil {
		t.Fatalf("NewSource() error: %v", err)
	}
	defer src.Stop()

	cfg := src.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil")
	}
	if cfg.Analyzer.SpanCap != 5000 {
		t.Errorf("Expected default span_cap 5000, got %d", cfg.Analyzer.SpanCap)
	}
}

func TestNewSource_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("correlation:\n  lookback_days: 14\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	src, err := NewSource(path)
	if err != nil {
		t.Fatalf("NewSource() error: %v", err)
	}
	defer src.Stop()

	if got := src.Current().Correlation.LookbackDays; got != 14 {
		t.Errorf("Expected lookback_days 14, got %d", got)
	}
}

func TestNewSource_MissingFile(t *testing.T) {
	if _, err := NewSource(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing tuning file, got nil")
	}
}
