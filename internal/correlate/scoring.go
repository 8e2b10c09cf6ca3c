package correlate

import (
	"math"
	"strings"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/tuning"
)

// temporalDecayK steepens the age decay: with the default 7-day
// lookback a change from an hour ago scores ~0.97, one from yesterday
// ~0.49, one from a week ago ~0.007.
const temporalDecayK = 5.0

// temporalScore weights a change by how recently it landed before the
// alert fired. Returns a value in [0, 1]: 1 at the trigger moment,
// decaying exponentially toward 0 at the lookback boundary.
func temporalScore(changedAt, triggeredAt time.Time, lookback time.Duration) float64 {
	if lookback <= 0 {
		return 0
	}
	age := triggeredAt.Sub(changedAt)
	if age < 0 {
		// Clock skew between the repo host and us; treat as brand new.
		age = 0
	}
	return clamp(math.Exp(-temporalDecayK*age.Seconds()/lookback.Seconds()), 0, 1)
}

// semanticScore measures how strongly a change's files overlap the
// semantically relevant chunks: per changed file, the best similarity
// among chunks matching that path, averaged over all changed files.
// Returns a value in [0, 1]; 0 when either side is empty.
func semanticScore(changedFiles []string, chunks []models.RelevantCodeChunk) float64 {
	if len(changedFiles) == 0 || len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, file := range changedFiles {
		best := 0.0
		for _, chunk := range chunks {
			if !samePath(file, chunk.FilePath) {
				continue
			}
			if chunk.Similarity > best {
				best = chunk.Similarity
			}
		}
		sum += best
	}
	return clamp(sum/float64(len(changedFiles)), 0, 1)
}

// pathMatchScore is the fraction of stack-trace paths the change
// touched. Returns a value in [0, 1]; an empty stack path set scores
// 0 (no signal), never 1.
func pathMatchScore(changedFiles, stackPaths []string) float64 {
	if len(stackPaths) == 0 || len(changedFiles) == 0 {
		return 0
	}
	matched := 0
	for _, stackPath := range stackPaths {
		for _, file := range changedFiles {
			if samePath(stackPath, file) {
				matched++
				break
			}
		}
	}
	return clamp(float64(matched)/float64(len(stackPaths)), 0, 1)
}

// combinedScore folds the three signals into one rank, normalized by
// the weight sum so custom weights still land in [0, 1].
func combinedScore(s models.ScoreBreakdown, cfg *tuning.CorrelationConfig) float64 {
	total := cfg.TemporalWeight + cfg.SemanticWeight + cfg.PathWeight
	if total <= 0 {
		return 0
	}
	weighted := s.Temporal*cfg.TemporalWeight + s.Semantic*cfg.SemanticWeight + s.PathMatch*cfg.PathWeight
	return clamp(weighted/total, 0, 1)
}

// samePath compares file paths leniently. Stack traces carry absolute
// or container paths while commit diffs are repo-relative, so one path
// ending with the other at a segment boundary counts as the same file.
func samePath(a, b string) bool {
	a = normalizePath(a)
	b = normalizePath(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimLeft(p, "/")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
