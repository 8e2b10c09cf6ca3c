package repos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

type mockRepoRepository struct {
	commits     []*models.Commit
	pulls       []*models.PullRequest
	upsertError error
}

func (m *mockRepoRepository) UpsertCommits(ctx context.Context, commits []*models.Commit) error {
	if m.upsertError != nil {
		return m.upsertError
	}
	m.commits = append(m.commits, commits...)
	return nil
}

func (m *mockRepoRepository) UpsertPullRequests(ctx context.Context, prs []*models.PullRequest) error {
	if m.upsertError != nil {
		return m.upsertError
	}
	m.pulls = append(m.pulls, prs...)
	return nil
}

func (m *mockRepoRepository) ListCommits(ctx context.Context, repoID string, since, until time.Time, limit int) ([]*models.Commit, error) {
	return m.commits, nil
}

func (m *mockRepoRepository) ListMergedPRs(ctx context.Context, repoID string, since, until time.Time, limit int) ([]*models.PullRequest, error) {
	return m.pulls, nil
}

type mockStorage struct {
	repos *mockRepoRepository
}

func (m *mockStorage) Open() error                                 { return nil }
func (m *mockStorage) Close() error                                { return nil }
func (m *mockStorage) Migrate() error                              { return nil }
func (m *mockStorage) Projects() storage.ProjectRepository         { return nil }
func (m *mockStorage) Alerts() storage.AlertRepository             { return nil }
func (m *mockStorage) Channels() storage.ChannelRepository         { return nil }
func (m *mockStorage) Repos() storage.RepoRepository               { return m.repos }
func (m *mockStorage) Triggers() storage.TriggerRepository         { return nil }

func withRepoID(r *http.Request, repoID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("repoID", repoID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestSyncCommits_Success(t *testing.T) {
	repo := &mockRepoRepository{}
	handler := NewHandler(&mockStorage{repos: repo})

	body := strings.NewReader(`{"commits": [
		{"sha": "abc1234", "message": "fix timeout", "author": "dev", "committed_at": "2026-08-20T10:00:00Z", "files_changed": ["internal/api/client.go"]},
		{"sha": "def5678", "message": "bump deps", "author": "dev", "committed_at": "2026-08-21T10:00:00Z", "repo_id": "spoofed/other"}
	]}`)
	req := withRepoID(httptest.NewRequest(http.MethodPut, "/repos/acme%2Fcheckout/commits", body), "acme/checkout")
	rec := httptest.NewRecorder()
	handler.SyncCommits(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data *SyncResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Synced != 2 {
		t.Errorf("expected 2 synced, got %d", resp.Data.Synced)
	}

	if len(repo.commits) != 2 {
		t.Fatalf("expected 2 stored commits, got %d", len(repo.commits))
	}
	// The path repo ID wins over the body's.
	for _, c := range repo.commits {
		if c.RepoID != "acme/checkout" {
			t.Errorf("expected repo_id acme/checkout, got %q", c.RepoID)
		}
	}
}

func TestSyncCommits_MissingSHA(t *testing.T) {
	handler := NewHandler(&mockStorage{repos: &mockRepoRepository{}})

	body := strings.NewReader(`{"commits": [
		{"sha": "abc1234", "committed_at": "2026-08-20T10:00:00Z"},
		{"message": "no sha", "committed_at": "2026-08-20T11:00:00Z"}
	]}`)
	req := withRepoID(httptest.NewRequest(http.MethodPut, "/repos/r/commits", body), "acme/checkout")
	rec := httptest.NewRecorder()
	handler.SyncCommits(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "commit 1") {
		t.Errorf("expected row index in error, got %s", rec.Body.String())
	}
}

func TestSyncCommits_EmptyBatch(t *testing.T) {
	handler := NewHandler(&mockStorage{repos: &mockRepoRepository{}})

	body := strings.NewReader(`{"commits": []}`)
	req := withRepoID(httptest.NewRequest(http.MethodPut, "/repos/r/commits", body), "acme/checkout")
	rec := httptest.NewRecorder()
	handler.SyncCommits(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSyncPulls_Success(t *testing.T) {
	repo := &mockRepoRepository{}
	handler := NewHandler(&mockStorage{repos: repo})

	body := strings.NewReader(`{"pulls": [
		{"number": 42, "title": "Retry on 5xx", "author": "dev", "merged_at": "2026-08-22T09:00:00Z", "files_changed": ["internal/api/client.go"]},
		{"number": 43, "title": "Still open", "author": "dev"}
	]}`)
	req := withRepoID(httptest.NewRequest(http.MethodPut, "/repos/r/pulls", body), "acme/checkout")
	rec := httptest.NewRecorder()
	handler.SyncPulls(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(repo.pulls) != 2 {
		t.Fatalf("expected 2 stored pulls, got %d", len(repo.pulls))
	}
	if repo.pulls[0].RepoID != "acme/checkout" {
		t.Errorf("expected repo_id stamped, got %q", repo.pulls[0].RepoID)
	}
	if !repo.pulls[0].IsMerged() {
		t.Error("expected first pull merged")
	}
	if repo.pulls[1].IsMerged() {
		t.Error("expected second pull unmerged")
	}
}

func TestSyncPulls_InvalidNumber(t *testing.T) {
	handler := NewHandler(&mockStorage{repos: &mockRepoRepository{}})

	body := strings.NewReader(`{"pulls": [{"number": 0, "title": "bad"}]}`)
	req := withRepoID(httptest.NewRequest(http.MethodPut, "/repos/r/pulls", body), "acme/checkout")
	rec := httptest.NewRecorder()
	handler.SyncPulls(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSyncCommits_InvalidBody(t *testing.T) {
	handler := NewHandler(&mockStorage{repos: &mockRepoRepository{}})

	body := strings.NewReader(`{"commits": "not an array"}`)
	req := withRepoID(httptest.NewRequest(http.MethodPut, "/repos/r/commits", body), "acme/checkout")
	rec := httptest.NewRecorder()
	handler.SyncCommits(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
