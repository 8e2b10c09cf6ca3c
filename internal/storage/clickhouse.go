package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/spanlight/spanlight/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for span retention.
	RetentionDays int
}

// ClickHouseStorage implements SpanStorage for ClickHouse.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	db     *sql.DB
	spans  *clickhouseSpanRepo
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig) *ClickHouseStorage {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}

	return &ClickHouseStorage{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.spans = &clickhouseSpanRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the spans table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Create spans table
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS spans (
			id String,
			trace_id String,
			parent_span_id String DEFAULT '',
			project_id LowCardinality(String),
			name String,
			level LowCardinality(String),
			status_message String DEFAULT '',
			model LowCardinality(String) DEFAULT '',
			start_time DateTime64(3, 'UTC'),
			end_time Nullable(DateTime64(3, 'UTC')),
			prompt_tokens Int64 DEFAULT 0,
			completion_tokens Int64 DEFAULT 0,
			total_cost Float64 DEFAULT 0,
			output String DEFAULT '',
			_date Date DEFAULT toDate(start_time)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (project_id, start_time, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create spans table: %w", err)
	}

	// Add indexes (these are idempotent in ClickHouse)
	indexes := []string{
		"ALTER TABLE spans ADD INDEX IF NOT EXISTS idx_status_message status_message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
		"ALTER TABLE spans ADD INDEX IF NOT EXISTS idx_trace_id trace_id TYPE bloom_filter(0.01) GRANULARITY 4",
		"ALTER TABLE spans ADD INDEX IF NOT EXISTS idx_name name TYPE bloom_filter(0.01) GRANULARITY 4",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Log warning but don't fail - index creation may not be supported in all ClickHouse versions
			fmt.Printf("warning: failed to create index: %v\n", err)
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Spans returns the span repository.
func (s *ClickHouseStorage) Spans() SpanRepository {
	return s.spans
}

// clickhouseSpanRepo implements SpanRepository for ClickHouse.
type clickhouseSpanRepo struct {
	db *sql.DB
}

const spanColumns = `id, trace_id, parent_span_id, project_id, name, level,
		status_message, model, start_time, end_time,
		prompt_tokens, completion_tokens, total_cost, output`

// InsertBatch inserts multiple spans using batch insert.
func (r *clickhouseSpanRepo) InsertBatch(ctx context.Context, spans []*models.Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (
			id, trace_id, parent_span_id, project_id, name, level,
			status_message, model, start_time, end_time,
			prompt_tokens, completion_tokens, total_cost, output
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, span := range spans {
		id := span.ID
		if id == "" {
			id = uuid.New().String()
		}

		_, err := stmt.ExecContext(ctx,
			id,
			span.TraceID,
			span.ParentSpanID,
			span.ProjectID,
			span.Name,
			string(span.Level),
			span.StatusMessage,
			span.Model,
			span.StartTime,
			span.EndTime,
			span.PromptTokens,
			span.CompletionTokens,
			span.TotalCost,
			span.Output,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Query retrieves spans matching the filter.
func (r *clickhouseSpanRepo) Query(ctx context.Context, filter *SpanFilter) (*SpanQueryResult, error) {
	query, args := r.buildQuery(filter, false)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	spans, err := r.scanSpans(rows)
	if err != nil {
		return nil, err
	}

	// Get total count
	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	return &SpanQueryResult{
		Spans:   spans,
		Total:   total,
		HasMore: int64(filter.Offset+len(spans)) < total,
	}, nil
}

// Count returns the count of spans matching the filter.
func (r *clickhouseSpanRepo) Count(ctx context.Context, filter *SpanFilter) (int64, error) {
	query, args := r.buildQuery(filter, true)

	var count int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return count, nil
}

// QueryWindow returns up to limit spans started in [start, end],
// most recent first.
func (r *clickhouseSpanRepo) QueryWindow(ctx context.Context, projectID string, start, end time.Time, limit int) ([]*models.Span, error) {
	query := `
		SELECT ` + spanColumns + `
		FROM spans
		WHERE project_id = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	defer rows.Close()

	return r.scanSpans(rows)
}

// ErrorCounts returns total and ERROR-level span counts over the window.
func (r *clickhouseSpanRepo) ErrorCounts(ctx context.Context, projectID string, start, end time.Time) (int64, int64, error) {
	query := `
		SELECT count(), countIf(level = 'ERROR')
		FROM spans
		WHERE project_id = ? AND start_time >= ? AND start_time <= ?
	`
	var total, errored int64
	err := r.db.QueryRowContext(ctx, query, projectID, start, end).Scan(&total, &errored)
	if err != nil {
		return 0, 0, fmt.Errorf("error counts: %w", err)
	}
	return total, errored, nil
}

// Latencies returns the latencies in milliseconds of completed spans
// over the window.
func (r *clickhouseSpanRepo) Latencies(ctx context.Context, projectID string, start, end time.Time) ([]float64, error) {
	query := `
		SELECT toFloat64(dateDiff('millisecond', start_time, end_time))
		FROM spans
		WHERE project_id = ? AND start_time >= ? AND start_time <= ? AND end_time IS NOT NULL
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("latencies: %w", err)
	}
	defer rows.Close()

	var latencies []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan latency: %w", err)
		}
		latencies = append(latencies, v)
	}
	return latencies, rows.Err()
}

// DeleteBefore removes spans older than the specified time.
func (r *clickhouseSpanRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	// First get count for return value
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM spans WHERE start_time < ?", before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// Delete using ALTER TABLE DELETE (async in ClickHouse)
	_, err = r.db.ExecContext(ctx, "ALTER TABLE spans DELETE WHERE start_time < ?", before)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return count, nil
}

func (r *clickhouseSpanRepo) scanSpans(rows *sql.Rows) ([]*models.Span, error) {
	var spans []*models.Span
	for rows.Next() {
		span := &models.Span{}
		var level string
		var endTime sql.NullTime

		err := rows.Scan(
			&span.ID,
			&span.TraceID,
			&span.ParentSpanID,
			&span.ProjectID,
			&span.Name,
			&level,
			&span.StatusMessage,
			&span.Model,
			&span.StartTime,
			&endTime,
			&span.PromptTokens,
			&span.CompletionTokens,
			&span.TotalCost,
			&span.Output,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		span.Level = models.SpanLevel(level)
		if endTime.Valid {
			t := endTime.Time
			span.EndTime = &t
		}

		spans = append(spans, span)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return spans, nil
}

// buildQuery constructs the SQL query based on filter.
func (r *clickhouseSpanRepo) buildQuery(filter *SpanFilter, countOnly bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	if countOnly {
		sb.WriteString("SELECT count() FROM spans")
	} else {
		sb.WriteString("SELECT " + spanColumns + " FROM spans")
	}

	// Build WHERE clause
	var conditions []string

	// Project scope
	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}

	// Time range filter (required for efficient queries)
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "start_time <= ?")
		args = append(args, filter.EndTime)
	}

	// Trace filter
	if filter.TraceID != "" {
		conditions = append(conditions, "trace_id = ?")
		args = append(args, filter.TraceID)
	}

	// Level filter
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, filter.Level)
	}

	// Name filter
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}

	// Model filter
	if filter.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, filter.Model)
	}

	// Full-text search on status message
	if filter.MessageContains != "" {
		conditions = append(conditions, "hasToken(status_message, ?)")
		args = append(args, filter.MessageContains)
	}

	// Append WHERE clause
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	// Skip ORDER BY and LIMIT for count queries
	if countOnly {
		return sb.String(), args
	}

	// ORDER BY
	orderDir := "DESC"
	if filter.OrderAsc {
		orderDir = "ASC"
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY start_time %s", orderDir))

	// LIMIT and OFFSET
	limit := filter.Limit
	if limit == 0 {
		limit = 100 // Default limit
	}
	sb.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	if filter.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
	}

	return sb.String(), args
}
