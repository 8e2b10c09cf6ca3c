package correlate

import (
	"regexp"
	"sort"

	"github.com/spanlight/spanlight/internal/models"
)

// stackPathPattern matches source file references across the runtimes
// LLM applications run on: python tracebacks, go panics, node stacks,
// java frames. Trailing :line:col noise is excluded by construction.
var stackPathPattern = regexp.MustCompile(`[\w./-]+\.(?:go|py|js|jsx|ts|tsx|rb|java|rs|c|cc|cpp|h|hpp|cs|php|scala|kt|ex|exs)\b`)

// extractStackPaths pulls source file paths out of the error-pattern
// stack traces. Best effort: a malformed or absent trace contributes
// nothing, never an error. The result is deduplicated and sorted.
func extractStackPaths(analysis *models.TraceAnalysisOutput) []string {
	if analysis == nil {
		return nil
	}

	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range analysis.ErrorPatterns {
		if pattern.StackTrace == "" {
			continue
		}
		for _, match := range stackPathPattern.FindAllString(pattern.StackTrace, -1) {
			path := normalizePath(match)
			if path == "" || seen[path] {
				continue
			}
			seen[path] = true
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
