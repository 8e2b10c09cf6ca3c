package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

// captureSpanRepo records inserted batches and can be told to fail.
type captureSpanRepo struct {
	mu      sync.Mutex
	batches [][]*models.Span
	failErr error
}

func (r *captureSpanRepo) InsertBatch(ctx context.Context, spans []*models.Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	cp := make([]*models.Span, len(spans))
	copy(cp, spans)
	r.batches = append(r.batches, cp)
	return nil
}

func (r *captureSpanRepo) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *captureSpanRepo) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *captureSpanRepo) insertedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, batch := range r.batches {
		for _, s := range batch {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (r *captureSpanRepo) Query(ctx context.Context, filter *SpanFilter) (*SpanQueryResult, error) {
	return &SpanQueryResult{}, nil
}

func (r *captureSpanRepo) Count(ctx context.Context, filter *SpanFilter) (int64, error) {
	return 0, nil
}

func (r *captureSpanRepo) QueryWindow(ctx context.Context, projectID string, start, end time.Time, limit int) ([]*models.Span, error) {
	return nil, nil
}

func (r *captureSpanRepo) ErrorCounts(ctx context.Context, projectID string, start, end time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (r *captureSpanRepo) Latencies(ctx context.Context, projectID string, start, end time.Time) ([]float64, error) {
	return nil, nil
}

func (r *captureSpanRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func makeSpans(n int) []*models.Span {
	spans := make([]*models.Span, n)
	for i := range spans {
		spans[i] = &models.Span{ID: fmt.Sprintf("span-%d", i)}
	}
	return spans
}

func TestSpanBuffer_FlushOnBatchSize(t *testing.T) {
	repo := &captureSpanRepo{}
	buf := NewSpanBuffer(repo, &SpanBufferConfig{BatchSize: 3, FlushInterval: time.Hour, MaxSize: 100})
	defer buf.Close()

	if err := buf.AddBatch(makeSpans(3)); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	if got := repo.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}

	stats := buf.Stats()
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", stats.Inserted)
	}
	if stats.Pending != 0 {
		t.Errorf("Pending = %d, want 0", stats.Pending)
	}
}

func TestSpanBuffer_FlushOnInterval(t *testing.T) {
	repo := &captureSpanRepo{}
	buf := NewSpanBuffer(repo, &SpanBufferConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, MaxSize: 1000})
	defer buf.Close()

	if err := buf.AddBatch(makeSpans(2)); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no interval flush within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := buf.Stats().Inserted; got != 2 {
		t.Errorf("Inserted = %d, want 2", got)
	}
}

func TestSpanBuffer_DropOldestAtCap(t *testing.T) {
	repo := &captureSpanRepo{}
	buf := NewSpanBuffer(repo, &SpanBufferConfig{BatchSize: 100, FlushInterval: time.Hour, MaxSize: 5})
	defer buf.Close()

	if err := buf.AddBatch(makeSpans(5)); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Two more push the two oldest out
	extra := []*models.Span{{ID: "extra-0"}, {ID: "extra-1"}}
	if err := buf.AddBatch(extra); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	stats := buf.Stats()
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
	if stats.Pending != 5 {
		t.Errorf("Pending = %d, want 5", stats.Pending)
	}

	if err := buf.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	want := []string{"span-2", "span-3", "span-4", "extra-0", "extra-1"}
	got := repo.insertedIDs()
	if len(got) != len(want) {
		t.Fatalf("inserted %d spans, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("inserted[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSpanBuffer_OversizedBatchKeepsNewest(t *testing.T) {
	repo := &captureSpanRepo{}
	buf := NewSpanBuffer(repo, &SpanBufferConfig{BatchSize: 100, FlushInterval: time.Hour, MaxSize: 3})
	defer buf.Close()

	// A single batch larger than the cap keeps only its newest spans.
	if err := buf.AddBatch(makeSpans(5)); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	stats := buf.Stats()
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
	if stats.Pending != 3 {
		t.Errorf("Pending = %d, want 3", stats.Pending)
	}

	if err := buf.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	want := []string{"span-2", "span-3", "span-4"}
	got := repo.insertedIDs()
	if len(got) != len(want) {
		t.Fatalf("inserted %d spans, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("inserted[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSpanBuffer_RequeueOnInsertError(t *testing.T) {
	repo := &captureSpanRepo{}
	repo.setErr(errors.New("clickhouse down"))

	buf := NewSpanBuffer(repo, &SpanBufferConfig{BatchSize: 2, FlushInterval: time.Hour, MaxSize: 100})
	defer buf.Close()

	// Hitting the batch size flushes, which fails and requeues.
	if err := buf.AddBatch(makeSpans(2)); err == nil {
		t.Fatal("expected insert error to propagate")
	}

	if got := buf.Stats().Pending; got != 2 {
		t.Errorf("Pending after failed flush = %d, want 2", got)
	}

	// Backend recovers
	repo.setErr(nil)
	if err := buf.Flush(); err != nil {
		t.Fatalf("Flush after recovery failed: %v", err)
	}

	stats := buf.Stats()
	if stats.Pending != 0 {
		t.Errorf("Pending = %d, want 0", stats.Pending)
	}
	if stats.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", stats.Inserted)
	}
}

func TestSpanBuffer_CloseDrainsBuffer(t *testing.T) {
	repo := &captureSpanRepo{}
	buf := NewSpanBuffer(repo, &SpanBufferConfig{BatchSize: 100, FlushInterval: time.Hour, MaxSize: 1000})

	if err := buf.AddBatch(makeSpans(4)); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := buf.Stats().Inserted; got != 4 {
		t.Errorf("Inserted after close = %d, want 4", got)
	}

	// Spans after close are discarded, and Close is idempotent.
	if err := buf.Add(&models.Span{ID: "late"}); err != nil {
		t.Errorf("Add after close returned error: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
	if got := buf.Stats().Inserted; got != 4 {
		t.Errorf("Inserted = %d, want 4 after late add", got)
	}
}
