package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

// Unit tests (no ClickHouse required)

func TestSpanFilter_Defaults(t *testing.T) {
	filter := &SpanFilter{}

	if filter.Limit != 0 {
		t.Errorf("expected default limit 0, got %d", filter.Limit)
	}
	if filter.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", filter.Offset)
	}
	if filter.OrderAsc {
		t.Error("expected default order to be descending")
	}
}

func TestSpanFilter_TimeRange(t *testing.T) {
	now := time.Now()
	filter := &SpanFilter{
		StartTime: now.Add(-time.Hour),
		EndTime:   now,
	}

	if filter.StartTime.IsZero() {
		t.Error("expected StartTime to be set")
	}
	if filter.EndTime.IsZero() {
		t.Error("expected EndTime to be set")
	}
}

func TestBuildQuery_Filters(t *testing.T) {
	repo := &clickhouseSpanRepo{}
	now := time.Now()

	tests := []struct {
		name     string
		filter   *SpanFilter
		contains []string
		argCount int
	}{
		{
			name:     "empty filter",
			filter:   &SpanFilter{},
			contains: []string{"FROM spans", "ORDER BY start_time DESC", "LIMIT 100"},
			argCount: 0,
		},
		{
			name:     "project scope",
			filter:   &SpanFilter{ProjectID: "proj-1"},
			contains: []string{"project_id = ?"},
			argCount: 1,
		},
		{
			name: "time range",
			filter: &SpanFilter{
				StartTime: now.Add(-time.Hour),
				EndTime:   now,
			},
			contains: []string{"start_time >= ?", "start_time <= ?"},
			argCount: 2,
		},
		{
			name:     "trace lookup",
			filter:   &SpanFilter{TraceID: "trace-1"},
			contains: []string{"trace_id = ?"},
			argCount: 1,
		},
		{
			name:     "level and name",
			filter:   &SpanFilter{Level: "ERROR", Name: "llm.generate"},
			contains: []string{"level = ?", "name = ?", " AND "},
			argCount: 2,
		},
		{
			name:     "model filter",
			filter:   &SpanFilter{Model: "gpt-4o"},
			contains: []string{"model = ?"},
			argCount: 1,
		},
		{
			name:     "message search",
			filter:   &SpanFilter{MessageContains: "timeout"},
			contains: []string{"hasToken(status_message, ?)"},
			argCount: 1,
		},
		{
			name:     "ascending order with paging",
			filter:   &SpanFilter{Limit: 50, Offset: 100, OrderAsc: true},
			contains: []string{"ORDER BY start_time ASC", "LIMIT 50", "OFFSET 100"},
			argCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := repo.buildQuery(tt.filter, false)
			for _, want := range tt.contains {
				if !strings.Contains(query, want) {
					t.Errorf("query missing %q:\n%s", want, query)
				}
			}
			if len(args) != tt.argCount {
				t.Errorf("expected %d args, got %d", tt.argCount, len(args))
			}
		})
	}
}

func TestBuildQuery_CountOnly(t *testing.T) {
	repo := &clickhouseSpanRepo{}

	query, args := repo.buildQuery(&SpanFilter{ProjectID: "proj-1", Limit: 10}, true)

	if !strings.HasPrefix(query, "SELECT count() FROM spans") {
		t.Errorf("expected count query, got: %s", query)
	}
	if strings.Contains(query, "ORDER BY") {
		t.Error("count query should not include ORDER BY")
	}
	if strings.Contains(query, "LIMIT") {
		t.Error("count query should not include LIMIT")
	}
	if len(args) != 1 {
		t.Errorf("expected 1 arg, got %d", len(args))
	}
}

// SpanBuffer unit tests

func TestSpanBuffer_AddBatch(t *testing.T) {
	mock := &mockSpanRepo{
		insertBatchCalls: 0,
	}

	config := &SpanBufferConfig{
		BatchSize:     3,
		FlushInterval: time.Hour, // Long interval so timer doesn't trigger
		MaxSize:       100,
	}

	buffer := NewSpanBuffer(mock, config)
	defer buffer.Close()

	// Add spans below batch size
	err := buffer.AddBatch([]*models.Span{
		{ID: "1", Name: "span1"},
		{ID: "2", Name: "span2"},
	})
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Should not have flushed yet
	if mock.insertBatchCalls != 0 {
		t.Errorf("expected 0 insertBatch calls, got %d", mock.insertBatchCalls)
	}

	// Add more to trigger batch size
	err = buffer.AddBatch([]*models.Span{
		{ID: "3", Name: "span3"},
	})
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Should have flushed
	if mock.insertBatchCalls != 1 {
		t.Errorf("expected 1 insertBatch call, got %d", mock.insertBatchCalls)
	}
	if mock.lastBatchSize != 3 {
		t.Errorf("expected batch size 3, got %d", mock.lastBatchSize)
	}
}

func TestSpanBuffer_Flush(t *testing.T) {
	mock := &mockSpanRepo{}

	config := &SpanBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}

	buffer := NewSpanBuffer(mock, config)
	defer buffer.Close()

	// Add some spans
	buffer.AddBatch([]*models.Span{
		{ID: "1", Name: "span1"},
	})

	// Manual flush
	err := buffer.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if mock.insertBatchCalls != 1 {
		t.Errorf("expected 1 insertBatch call, got %d", mock.insertBatchCalls)
	}
}

func TestSpanBuffer_Backpressure(t *testing.T) {
	mock := &mockSpanRepo{
		insertBatchErr: nil,
	}

	config := &SpanBufferConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxSize:       5, // Small max size to test backpressure
	}

	buffer := NewSpanBuffer(mock, config)
	defer buffer.Close()

	// Add more than max size
	spans := make([]*models.Span, 10)
	for i := 0; i < 10; i++ {
		spans[i] = &models.Span{ID: string(rune('0' + i)), Name: "span"}
	}

	err := buffer.AddBatch(spans)
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	stats := buffer.Stats()
	if stats.Dropped == 0 {
		t.Error("expected some spans to be dropped")
	}
}

func TestSpanBuffer_Stats(t *testing.T) {
	mock := &mockSpanRepo{}

	config := &SpanBufferConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}

	buffer := NewSpanBuffer(mock, config)
	defer buffer.Close()

	// Add spans to trigger flush
	buffer.AddBatch([]*models.Span{
		{ID: "1", Name: "span1"},
		{ID: "2", Name: "span2"},
	})

	stats := buffer.Stats()
	if stats.Flushed != 1 {
		t.Errorf("expected 1 flush, got %d", stats.Flushed)
	}
	if stats.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", stats.Inserted)
	}
}

// Mock repository for testing
type mockSpanRepo struct {
	insertBatchCalls int
	lastBatchSize    int
	insertBatchErr   error
}

func (m *mockSpanRepo) InsertBatch(ctx context.Context, spans []*models.Span) error {
	m.insertBatchCalls++
	m.lastBatchSize = len(spans)
	return m.insertBatchErr
}

func (m *mockSpanRepo) Query(ctx context.Context, filter *SpanFilter) (*SpanQueryResult, error) {
	return &SpanQueryResult{Spans: nil, Total: 0}, nil
}

func (m *mockSpanRepo) Count(ctx context.Context, filter *SpanFilter) (int64, error) {
	return 0, nil
}

func (m *mockSpanRepo) QueryWindow(ctx context.Context, projectID string, start, end time.Time, limit int) ([]*models.Span, error) {
	return nil, nil
}

func (m *mockSpanRepo) ErrorCounts(ctx context.Context, projectID string, start, end time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (m *mockSpanRepo) Latencies(ctx context.Context, projectID string, start, end time.Time) ([]float64, error) {
	return nil, nil
}

func (m *mockSpanRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// Integration tests are in clickhouse_integration_test.go
// Run with: go test -tags=integration ./internal/storage/...
