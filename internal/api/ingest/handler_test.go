package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/api/auth"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

type mockSpanRepository struct {
	mu       sync.Mutex
	inserted []*models.Span
}

func (m *mockSpanRepository) InsertBatch(ctx context.Context, spans []*models.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, spans...)
	return nil
}

func (m *mockSpanRepository) Query(ctx context.Context, filter *storage.SpanFilter) (*storage.SpanQueryResult, error) {
	return &storage.SpanQueryResult{}, nil
}

func (m *mockSpanRepository) Count(ctx context.Context, filter *storage.SpanFilter) (int64, error) {
	return 0, nil
}

func (m *mockSpanRepository) QueryWindow(ctx context.Context, projectID string, start, end time.Time, limit int) ([]*models.Span, error) {
	return nil, nil
}

func (m *mockSpanRepository) ErrorCounts(ctx context.Context, projectID string, start, end time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (m *mockSpanRepository) Latencies(ctx context.Context, projectID string, start, end time.Time) ([]float64, error) {
	return nil, nil
}

func (m *mockSpanRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type mockProjectRepository struct {
	projects []*models.Project
}

func (m *mockProjectRepository) Create(ctx context.Context, project *models.Project) error {
	return nil
}

func (m *mockProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	for _, p := range m.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockProjectRepository) GetByName(ctx context.Context, name string) (*models.Project, error) {
	return nil, nil
}

func (m *mockProjectRepository) Update(ctx context.Context, project *models.Project) error {
	return nil
}
func (m *mockProjectRepository) Delete(ctx context.Context, id string) error { return nil }
func (m *mockProjectRepository) List(ctx context.Context) ([]*models.Project, error) {
	return m.projects, nil
}

type mockStorage struct {
	projectRepo *mockProjectRepository
}

func (m *mockStorage) Open() error    { return nil }
func (m *mockStorage) Close() error   { return nil }
func (m *mockStorage) Migrate() error { return nil }

func (m *mockStorage) Projects() storage.ProjectRepository { return m.projectRepo }
func (m *mockStorage) Alerts() storage.AlertRepository     { return nil }
func (m *mockStorage) Channels() storage.ChannelRepository { return nil }
func (m *mockStorage) Repos() storage.RepoRepository       { return nil }
func (m *mockStorage) Triggers() storage.TriggerRepository { return nil }

// newTestHandler builds a handler backed by a real buffer over a mock
// span repository, plus a project whose ingest key is returned.
func newTestHandler(t *testing.T) (*Handler, *mockSpanRepository, string) {
	t.Helper()

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}

	spanRepo := &mockSpanRepository{}
	buffer := storage.NewSpanBuffer(spanRepo, &storage.SpanBufferConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	t.Cleanup(func() { buffer.Close() })

	store := &mockStorage{
		projectRepo: &mockProjectRepository{
			projects: []*models.Project{{ID: "proj-1", Name: "checkout", APIKeyHash: hash}},
		},
	}
	return NewHandler(store, buffer), spanRepo, key
}

func spanBatchBody(n int) string {
	var b strings.Builder
	b.WriteString(`{"spans":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"trace_id":"trace-1","name":"chat.completion","level":"DEFAULT","start_time":"2026-08-25T10:00:00Z"}`)
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestIngest_Success(t *testing.T) {
	handler, spanRepo, key := newTestHandler(t)

	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(spanBatchBody(2)))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp struct {
		Data *IngestResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Data.Accepted)
	}

	// BatchSize 2 flushes inline, so the repo already has the spans.
	spanRepo.mu.Lock()
	defer spanRepo.mu.Unlock()
	if len(spanRepo.inserted) != 2 {
		t.Fatalf("inserted = %d, want 2", len(spanRepo.inserted))
	}
	if spanRepo.inserted[0].ProjectID != "proj-1" {
		t.Errorf("project_id = %q, want 'proj-1'", spanRepo.inserted[0].ProjectID)
	}
	if spanRepo.inserted[0].ID == "" {
		t.Error("span id not backfilled")
	}
}

func TestIngest_ProjectIDStamped(t *testing.T) {
	handler, spanRepo, key := newTestHandler(t)

	// The body claims a different project; the authenticated one wins.
	body := `{"spans":[
		{"trace_id":"t1","project_id":"someone-else","name":"op","start_time":"2026-08-25T10:00:00Z"},
		{"trace_id":"t1","project_id":"someone-else","name":"op2","start_time":"2026-08-25T10:00:01Z"}
	]}`
	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(body))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	spanRepo.mu.Lock()
	defer spanRepo.mu.Unlock()
	for _, s := range spanRepo.inserted {
		if s.ProjectID != "proj-1" {
			t.Errorf("project_id = %q, want 'proj-1'", s.ProjectID)
		}
	}
}

func TestIngest_MissingCredentials(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(spanBatchBody(1)))
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIngest_WrongKey(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	wrongKey, _, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}

	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(spanBatchBody(1)))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", wrongKey)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIngest_UnknownProject(t *testing.T) {
	handler, _, key := newTestHandler(t)

	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(spanBatchBody(1)))
	req.Header.Set("X-Project-ID", "no-such-project")
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIngest_MalformedKeyShape(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(spanBatchBody(1)))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", "not-a-spanlight-key")
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	handler, _, key := newTestHandler(t)

	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(`{"spans":[]}`))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIngest_InvalidSpansRejected(t *testing.T) {
	handler, _, key := newTestHandler(t)

	// One valid, one missing trace_id, one missing start_time.
	body := `{"spans":[
		{"trace_id":"t1","name":"op","start_time":"2026-08-25T10:00:00Z"},
		{"name":"op","start_time":"2026-08-25T10:00:00Z"},
		{"trace_id":"t1","name":"op"}
	]}`
	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(body))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp struct {
		Data *IngestResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", resp.Data.Accepted)
	}
	if resp.Data.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", resp.Data.Rejected)
	}
}

func TestIngest_AllInvalid(t *testing.T) {
	handler, _, key := newTestHandler(t)

	body := `{"spans":[{"name":"op"}]}`
	req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(body))
	req.Header.Set("X-Project-ID", "proj-1")
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	handler.Ingest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIngest_KeyCacheSkipsSecondVerify(t *testing.T) {
	handler, _, key := newTestHandler(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/ingest/spans", strings.NewReader(spanBatchBody(1)))
		req.Header.Set("X-Project-ID", "proj-1")
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()

		handler.Ingest(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusAccepted)
		}
	}

	handler.mu.Lock()
	cached := len(handler.verified)
	handler.mu.Unlock()
	if cached != 1 {
		t.Errorf("cached fingerprints = %d, want 1", cached)
	}
}

func TestValidateSpan(t *testing.T) {
	start := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	earlier := start.Add(-time.Minute)

	tests := []struct {
		name    string
		span    *models.Span
		wantErr bool
	}{
		{
			name: "valid",
			span: &models.Span{TraceID: "t1", Name: "op", StartTime: start},
		},
		{
			name:    "missing trace_id",
			span:    &models.Span{Name: "op", StartTime: start},
			wantErr: true,
		},
		{
			name:    "blank name",
			span:    &models.Span{TraceID: "t1", Name: "   ", StartTime: start},
			wantErr: true,
		},
		{
			name:    "zero start_time",
			span:    &models.Span{TraceID: "t1", Name: "op"},
			wantErr: true,
		},
		{
			name:    "end before start",
			span:    &models.Span{TraceID: "t1", Name: "op", StartTime: start, EndTime: &earlier},
			wantErr: true,
		},
		{
			name:    "negative tokens",
			span:    &models.Span{TraceID: "t1", Name: "op", StartTime: start, PromptTokens: -1},
			wantErr: true,
		},
		{
			name:    "nil span",
			span:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpan(tt.span)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSpan() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
