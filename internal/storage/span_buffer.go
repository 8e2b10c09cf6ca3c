package storage

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/internal/models"
)

// flushTimeout bounds a single batch insert.
const flushTimeout = 30 * time.Second

// SpanBuffer batches ingested spans ahead of the ClickHouse writer. A
// flush fires when the batch size is reached or on the flush interval,
// whichever comes first. When the buffer hits its cap the oldest spans
// are dropped: losing a slice of telemetry beats stalling SDK ingest.
type SpanBuffer struct {
	repo          SpanRepository
	batchSize     int
	flushInterval time.Duration
	maxSize       int

	mu       sync.Mutex
	buffer   []*models.Span
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

// SpanBufferConfig holds SpanBuffer configuration.
type SpanBufferConfig struct {
	// BatchSize is the span count that triggers a flush.
	BatchSize int

	// FlushInterval caps how long a span waits before being written.
	FlushInterval time.Duration

	// MaxSize is the buffer cap. Oldest spans are dropped beyond it.
	MaxSize int
}

// NewSpanBuffer creates a span buffer and starts its flush loop.
func NewSpanBuffer(repo SpanRepository, config *SpanBufferConfig) *SpanBuffer {
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxSize == 0 {
		config.MaxSize = 100000
	}

	b := &SpanBuffer{
		repo:          repo,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		buffer:        make([]*models.Span, 0, config.BatchSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go b.flushLoop()
	return b
}

// Add buffers a single span.
func (b *SpanBuffer) Add(span *models.Span) error {
	return b.AddBatch([]*models.Span{span})
}

// AddBatch buffers a batch of spans, flushing if the batch threshold
// is crossed. Spans arriving after Close are discarded.
func (b *SpanBuffer) AddBatch(spans []*models.Span) error {
	if b.stopped.Load() {
		return nil
	}

	b.mu.Lock()
	spans = b.makeRoom(spans)
	b.buffer = append(b.buffer, spans...)
	full := len(b.buffer) >= b.batchSize
	metrics.BufferPending.Set(float64(len(b.buffer)))
	b.mu.Unlock()

	if full {
		return b.Flush()
	}
	return nil
}

// makeRoom drops oldest spans until incoming fits under the cap,
// taking from the buffered spans first and then from the front of the
// incoming batch itself. Returns the incoming slice trimmed to what
// fits. Caller holds the lock.
func (b *SpanBuffer) makeRoom(incoming []*models.Span) []*models.Span {
	overflow := len(b.buffer) + len(incoming) - b.maxSize
	if overflow <= 0 {
		return incoming
	}

	fromBuffer := overflow
	if fromBuffer > len(b.buffer) {
		fromBuffer = len(b.buffer)
	}
	b.buffer = b.buffer[fromBuffer:]

	if fromIncoming := overflow - fromBuffer; fromIncoming > 0 {
		incoming = incoming[fromIncoming:]
	}

	b.dropped.Add(int64(overflow))
	metrics.BufferDroppedTotal.Add(float64(overflow))
	log.Printf("warning: span buffer full, dropped %d oldest spans", overflow)
	return incoming
}

// Flush writes the buffered spans now. On insert failure the batch is
// requeued at the front so ordering survives the retry.
func (b *SpanBuffer) Flush() error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}

	toFlush := b.buffer
	b.buffer = make([]*models.Span, 0, b.batchSize)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := b.repo.InsertBatch(ctx, toFlush); err != nil {
		metrics.BufferFlushErrors.Inc()

		b.mu.Lock()
		b.buffer = append(toFlush, b.buffer...)
		// The requeue can push past the cap.
		if excess := len(b.buffer) - b.maxSize; excess > 0 {
			b.dropped.Add(int64(excess))
			metrics.BufferDroppedTotal.Add(float64(excess))
			b.buffer = b.buffer[excess:]
		}
		metrics.BufferPending.Set(float64(len(b.buffer)))
		b.mu.Unlock()
		return err
	}

	b.flushed.Add(1)
	b.inserted.Add(int64(len(toFlush)))
	metrics.BufferFlushesTotal.Inc()
	metrics.BufferInsertedTotal.Add(float64(len(toFlush)))

	b.mu.Lock()
	metrics.BufferPending.Set(float64(len(b.buffer)))
	b.mu.Unlock()
	return nil
}

func (b *SpanBuffer) flushLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				log.Printf("span buffer flush error: %v", err)
			}
		case <-b.stopCh:
			if err := b.Flush(); err != nil {
				log.Printf("span buffer final flush error: %v", err)
			}
			return
		}
	}
}

// Close stops the flush loop after draining the buffer. Safe to call
// more than once.
func (b *SpanBuffer) Close() error {
	if b.stopped.Swap(true) {
		return nil
	}
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Stats returns a snapshot of buffer counters.
func (b *SpanBuffer) Stats() SpanBufferStats {
	b.mu.Lock()
	pending := len(b.buffer)
	b.mu.Unlock()

	return SpanBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}

// SpanBufferStats contains buffer counters.
type SpanBufferStats struct {
	// Pending is the number of spans waiting to be flushed.
	Pending int

	// Dropped is the total number of spans dropped at the cap.
	Dropped int64

	// Flushed is the total number of flush operations.
	Flushed int64

	// Inserted is the total number of spans successfully written.
	Inserted int64
}
