package correlate

import (
	"strings"

	"github.com/spanlight/spanlight/internal/models"
)

const (
	maxQueryPatterns  = 3
	maxQueryEndpoints = 3
	maxQueryRunes     = 1000
)

// buildSearchQuery condenses the analysis into one semantic query: the
// dominant error patterns first (they carry the most signal), then the
// most affected endpoints. Empty when the analysis has neither, which
// callers treat as "skip semantic search".
func buildSearchQuery(analysis *models.TraceAnalysisOutput) string {
	if analysis == nil {
		return ""
	}

	var parts []string
	for i, pattern := range analysis.ErrorPatterns {
		if i == maxQueryPatterns {
			break
		}
		parts = append(parts, pattern.Pattern)
	}
	for i, endpoint := range analysis.AffectedEndpoints {
		if i == maxQueryEndpoints {
			break
		}
		parts = append(parts, endpoint.Name)
	}

	query := strings.TrimSpace(strings.Join(parts, "\n"))
	if runes := []rune(query); len(runes) > maxQueryRunes {
		query = string(runes[:maxQueryRunes])
	}
	return query
}
