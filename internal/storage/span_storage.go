package storage

import (
	"context"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

// SpanStorage defines operations for span persistence.
// This is separate from the main Storage interface as spans have
// different access patterns (high-volume writes, time-series queries).
type SpanStorage interface {
	// Open initializes the span storage connection.
	Open() error
	// Close closes the span storage connection.
	Close() error
	// Migrate creates or updates the span storage schema.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Spans returns the span repository.
	Spans() SpanRepository
}

// SpanRepository defines span persistence and the window reads used by
// alert evaluation and trace analysis.
type SpanRepository interface {
	// InsertBatch inserts multiple spans in a single batch.
	InsertBatch(ctx context.Context, spans []*models.Span) error

	// Query retrieves spans matching the given filters.
	Query(ctx context.Context, filter *SpanFilter) (*SpanQueryResult, error)

	// Count returns the count of spans matching the filter.
	Count(ctx context.Context, filter *SpanFilter) (int64, error)

	// QueryWindow returns up to limit spans of a project started in
	// [start, end], most recent first.
	QueryWindow(ctx context.Context, projectID string, start, end time.Time, limit int) ([]*models.Span, error)

	// ErrorCounts returns the total and ERROR-level span counts of a
	// project over [start, end].
	ErrorCounts(ctx context.Context, projectID string, start, end time.Time) (total, errored int64, err error)

	// Latencies returns the latencies in milliseconds of all completed
	// spans of a project over [start, end]. Unterminated spans are
	// excluded.
	Latencies(ctx context.Context, projectID string, start, end time.Time) ([]float64, error)

	// DeleteBefore removes spans older than the specified time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SpanFilter defines query parameters for span retrieval.
type SpanFilter struct {
	// ProjectID scopes the query. Required.
	ProjectID string

	// Time range on start_time.
	StartTime time.Time
	EndTime   time.Time

	// Optional filters.
	TraceID string
	Level   string
	Name    string
	Model   string

	// Full-text search on status_message.
	MessageContains string

	// Pagination.
	Limit  int
	Offset int

	// Sorting (default: start_time DESC).
	OrderAsc bool
}

// SpanQueryResult contains query results with pagination info.
type SpanQueryResult struct {
	// Spans contains the matching spans.
	Spans []*models.Span

	// Total is the total number of matching spans (for pagination).
	Total int64

	// HasMore indicates if there are more results available.
	HasMore bool
}
