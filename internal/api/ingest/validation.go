package ingest

import (
	"errors"
	"strings"

	"github.com/spanlight/spanlight/internal/models"
)

// ValidateSpan checks the fields a span must carry before buffering.
// ProjectID is stamped by the handler and not checked here.
func ValidateSpan(s *models.Span) error {
	if s == nil {
		return errors.New("span is nil")
	}
	if s.TraceID == "" {
		return errors.New("trace_id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	if s.StartTime.IsZero() {
		return errors.New("start_time is required")
	}
	if s.EndTime != nil && s.EndTime.Before(s.StartTime) {
		return errors.New("end_time is before start_time")
	}
	if s.PromptTokens < 0 || s.CompletionTokens < 0 {
		return errors.New("token counts must be >= 0")
	}
	return nil
}
