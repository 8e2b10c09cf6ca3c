// Package models contains the core data structures for Spanlight.
package models

import (
	"encoding/json"
	"time"
)

// SpanLevel represents the severity level of a span.
type SpanLevel string

const (
	SpanLevelDebug   SpanLevel = "DEBUG"
	SpanLevelDefault SpanLevel = "DEFAULT"
	SpanLevelWarning SpanLevel = "WARNING"
	SpanLevelError   SpanLevel = "ERROR"
)

// Span represents one timed operation within a trace: an HTTP request,
// a function call, an LLM generation, or a log event.
type Span struct {
	// ID uniquely identifies the span.
	ID string `json:"id"`

	// TraceID groups spans belonging to one end-to-end operation.
	TraceID string `json:"trace_id"`

	// ParentSpanID is the id of the enclosing span, empty for root spans.
	ParentSpanID string `json:"parent_span_id,omitempty"`

	// ProjectID identifies the owning project.
	ProjectID string `json:"project_id"`

	// Name is the operation name: an endpoint, a function, a model call.
	Name string `json:"name"`

	// Level is the severity level of the span.
	Level SpanLevel `json:"level"`

	// StatusMessage carries the error or status text, if any.
	StatusMessage string `json:"status_message,omitempty"`

	// Model is the LLM model used when the span is a generation.
	Model string `json:"model,omitempty"`

	// StartTime is when the operation began.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the operation finished. Nil means the span never
	// terminated; such spans are excluded from latency statistics.
	EndTime *time.Time `json:"end_time,omitempty"`

	// PromptTokens is the number of input tokens for LLM spans.
	PromptTokens int64 `json:"prompt_tokens,omitempty"`

	// CompletionTokens is the number of output tokens for LLM spans.
	CompletionTokens int64 `json:"completion_tokens,omitempty"`

	// TotalCost is the computed cost of the span in USD.
	TotalCost float64 `json:"total_cost,omitempty"`

	// Output is the structured output of the operation. For ERROR spans
	// it may embed a stack trace.
	Output string `json:"output,omitempty"`
}

// IsError returns true if the span is ERROR level.
func (s *Span) IsError() bool {
	return s.Level == SpanLevelError
}

// Completed returns true if the span has a recorded end time.
func (s *Span) Completed() bool {
	return s.EndTime != nil
}

// LatencyMs returns the span duration in milliseconds, or 0 for
// unterminated spans.
func (s *Span) LatencyMs() float64 {
	if s.EndTime == nil {
		return 0
	}
	return float64(s.EndTime.Sub(s.StartTime)) / float64(time.Millisecond)
}

// TotalTokens returns the combined prompt and completion token count.
func (s *Span) TotalTokens() int64 {
	return s.PromptTokens + s.CompletionTokens
}

// JSON returns the span as JSON bytes.
func (s *Span) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// String returns a string representation of the span.
func (s *Span) String() string {
	return s.StartTime.Format(time.RFC3339) + " [" + string(s.Level) + "] " + s.Name
}

// ParseSpanLevel converts a string to SpanLevel.
func ParseSpanLevel(s string) SpanLevel {
	switch s {
	case "DEBUG", "debug":
		return SpanLevelDebug
	case "DEFAULT", "default", "INFO", "info":
		return SpanLevelDefault
	case "WARNING", "warning", "WARN", "warn":
		return SpanLevelWarning
	case "ERROR", "error", "FATAL", "fatal":
		return SpanLevelError
	default:
		return SpanLevelDefault
	}
}
