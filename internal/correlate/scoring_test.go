package correlate

import (
	"math"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/tuning"
)

const scoreEpsilon = 1e-9

func TestTemporalScore(t *testing.T) {
	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lookback := 7 * 24 * time.Hour

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"at trigger moment", 0, 1.0},
		{"one day old", 24 * time.Hour, math.Exp(-5.0 / 7.0)},
		{"at lookback boundary", lookback, math.Exp(-5.0)},
		{"future commit clamps to fresh", -time.Hour, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := temporalScore(triggered.Add(-tt.age), triggered, lookback)
			if math.Abs(got-tt.want) > scoreEpsilon {
				t.Errorf("temporalScore(age %v) = %v, want %v", tt.age, got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("score %v outside [0, 1]", got)
			}
		})
	}
}

func TestTemporalScore_MonotonicDecay(t *testing.T) {
	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lookback := 7 * 24 * time.Hour

	prev := 2.0
	for age := time.Duration(0); age <= lookback; age += 12 * time.Hour {
		got := temporalScore(triggered.Add(-age), triggered, lookback)
		if got >= prev {
			t.Fatalf("decay not monotonic at age %v: %v >= %v", age, got, prev)
		}
		prev = got
	}
}

func TestTemporalScore_ZeroLookback(t *testing.T) {
	now := time.Now()
	if got := temporalScore(now, now, 0); got != 0 {
		t.Errorf("zero lookback = %v, want 0", got)
	}
}

func TestSemanticScore(t *testing.T) {
	chunks := []models.RelevantCodeChunk{
		{FilePath: "internal/payments/charge.go", Similarity: 0.9},
		{FilePath: "internal/payments/charge.go", Similarity: 0.6},
		{FilePath: "internal/retry/backoff.go", Similarity: 0.7},
	}

	tests := []struct {
		name    string
		changed []string
		want    float64
	}{
		{
			name:    "single exact match takes max similarity",
			changed: []string{"internal/payments/charge.go"},
			want:    0.9,
		},
		{
			name:    "mean over changed files",
			changed: []string{"internal/payments/charge.go", "internal/retry/backoff.go"},
			want:    (0.9 + 0.7) / 2,
		},
		{
			name:    "unmatched files dilute",
			changed: []string{"internal/payments/charge.go", "docs/README.md"},
			want:    0.9 / 2,
		},
		{
			name:    "no overlap",
			changed: []string{"docs/README.md"},
			want:    0,
		},
		{
			name:    "no changed files",
			changed: nil,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := semanticScore(tt.changed, chunks)
			if math.Abs(got-tt.want) > scoreEpsilon {
				t.Errorf("semanticScore(%v) = %v, want %v", tt.changed, got, tt.want)
			}
		})
	}

	if got := semanticScore([]string{"a.go"}, nil); got != 0 {
		t.Errorf("no chunks = %v, want 0", got)
	}
}

func TestPathMatchScore(t *testing.T) {
	tests := []struct {
		name    string
		changed []string
		stack   []string
		want    float64
	}{
		{
			name:    "equal sets score full match",
			changed: []string{"services/payment.py", "services/retry.py"},
			stack:   []string{"services/payment.py", "services/retry.py"},
			want:    1.0,
		},
		{
			name:    "half the stack paths touched",
			changed: []string{"services/payment.py"},
			stack:   []string{"services/payment.py", "services/retry.py"},
			want:    0.5,
		},
		{
			name:    "absolute stack path matches relative change",
			changed: []string{"services/payment.py"},
			stack:   []string{"app/services/payment.py"},
			want:    1.0,
		},
		{
			name:    "disjoint sets",
			changed: []string{"docs/README.md"},
			stack:   []string{"services/payment.py"},
			want:    0,
		},
		{
			name:    "empty stack set is no signal",
			changed: []string{"services/payment.py"},
			stack:   nil,
			want:    0,
		},
		{
			name:    "empty change set",
			changed: nil,
			stack:   []string{"services/payment.py"},
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pathMatchScore(tt.changed, tt.stack)
			if math.Abs(got-tt.want) > scoreEpsilon {
				t.Errorf("pathMatchScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCombinedScore(t *testing.T) {
	cfg := tuning.Default().Correlation

	tests := []struct {
		name    string
		signals models.ScoreBreakdown
		want    float64
	}{
		{"all zero", models.ScoreBreakdown{}, 0},
		{"all one", models.ScoreBreakdown{Temporal: 1, Semantic: 1, PathMatch: 1}, 1},
		{
			"weighted sum",
			models.ScoreBreakdown{Temporal: 1, Semantic: 0.9, PathMatch: 1},
			0.40*1 + 0.35*0.9 + 0.25*1,
		},
		{
			"temporal only",
			models.ScoreBreakdown{Temporal: 0.5},
			0.40 * 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := combinedScore(tt.signals, &cfg)
			if math.Abs(got-tt.want) > scoreEpsilon {
				t.Errorf("combinedScore(%+v) = %v, want %v", tt.signals, got, tt.want)
			}
		})
	}
}

func TestCombinedScore_NormalizesCustomWeights(t *testing.T) {
	cfg := tuning.Default().Correlation
	cfg.TemporalWeight = 2
	cfg.SemanticWeight = 1
	cfg.PathWeight = 1

	got := combinedScore(models.ScoreBreakdown{Temporal: 1, Semantic: 1, PathMatch: 1}, &cfg)
	if math.Abs(got-1) > scoreEpsilon {
		t.Errorf("normalized score = %v, want 1", got)
	}
}

func TestSamePath(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"services/payment.py", "services/payment.py", true},
		{"/app/services/payment.py", "services/payment.py", true},
		{"services/payment.py", "/app/services/payment.py", true},
		{"./services/payment.py", "services/payment.py", true},
		{"payment.py", "services/payment.py", true},
		{"other_payment.py", "payment.py", false},
		{"services/payment.py", "services/retry.py", false},
		{"", "services/payment.py", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			if got := samePath(tt.a, tt.b); got != tt.want {
				t.Errorf("samePath(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
