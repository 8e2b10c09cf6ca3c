package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/spanlight/spanlight/internal/models"
)

// Volatile fragments are rewritten to stable placeholders before
// clustering so that "request 7f3a... failed" and "request 91c2...
// failed" land in the same bucket. Replacement order matters:
// timestamps are rewritten before :line:col so their colon-separated
// time parts cannot be mistaken for source positions.
var (
	uuidPattern      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	lineColPattern   = regexp.MustCompile(`:\d+:\d+\b`)
	lineNumPattern   = regexp.MustCompile(`(?i)\bline\s+\d+\b`)
	ipv4Pattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// NormalizeMessage rewrites the volatile parts of an error message to
// placeholders and truncates the result to maxLen runes. Normalizing
// an already-normalized message is a no-op: placeholders contain no
// digits, so no rule re-fires.
func NormalizeMessage(msg string, maxLen int) string {
	s := strings.TrimSpace(msg)
	s = uuidPattern.ReplaceAllString(s, "<uuid>")
	s = timestampPattern.ReplaceAllString(s, "<timestamp>")
	s = lineColPattern.ReplaceAllString(s, ":<line>:<col>")
	s = lineNumPattern.ReplaceAllString(s, "line <n>")
	s = ipv4Pattern.ReplaceAllString(s, "<ip>")
	return truncateRunes(s, maxLen)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// stackTraceTruncateLen caps the stack trace carried on a pattern so
// trigger records stay bounded.
const stackTraceTruncateLen = 2000

// clusterErrors groups ERROR spans by normalized status message and
// returns the top clusters by count.
func clusterErrors(spans []*models.Span, maxPatterns, maxSamples, maxLen int) []models.ErrorPattern {
	type cluster struct {
		pattern string
		count   int
		samples []string
		stack   string
	}

	clusters := make(map[string]*cluster)
	totalErrors := 0

	for _, span := range spans {
		if !span.IsError() {
			continue
		}
		totalErrors++

		pattern := NormalizeMessage(span.StatusMessage, maxLen)
		if pattern == "" {
			pattern = "(no message)"
		}

		c, ok := clusters[pattern]
		if !ok {
			c = &cluster{pattern: pattern}
			clusters[pattern] = c
		}
		c.count++
		if len(c.samples) < maxSamples {
			c.samples = append(c.samples, span.ID)
		}
		if c.stack == "" && span.Output != "" {
			c.stack = truncateRunes(span.Output, stackTraceTruncateLen)
		}
	}

	if totalErrors == 0 {
		return []models.ErrorPattern{}
	}

	ordered := make([]*cluster, 0, len(clusters))
	for _, c := range clusters {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].pattern < ordered[j].pattern
	})
	if len(ordered) > maxPatterns {
		ordered = ordered[:maxPatterns]
	}

	patterns := make([]models.ErrorPattern, 0, len(ordered))
	for _, c := range ordered {
		patterns = append(patterns, models.ErrorPattern{
			Pattern:       c.pattern,
			Count:         c.count,
			Percentage:    float64(c.count) / float64(totalErrors) * 100,
			SampleSpanIDs: c.samples,
			StackTrace:    c.stack,
		})
	}
	return patterns
}
