package codesearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientSearch(t *testing.T) {
	var received searchRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/v1/search" {
			t.Errorf("expected /v1/search path, got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret-key" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]any{
				{"file_path": "internal/payments/charge.go", "content": "func Charge(", "start_line": 10, "end_line": 42, "similarity": 0.91},
				{"file_path": "internal/retry/backoff.go", "content": "func Backoff(", "start_line": 1, "end_line": 18, "similarity": 0.77},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/", APIKey: "secret-key"})
	chunks, err := client.Search(context.Background(), "proj-1", "timeout calling payment provider", 10, 0.5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if received.ProjectID != "proj-1" || received.TopK != 10 || received.MinSimilarity != 0.5 {
		t.Errorf("request = %+v", received)
	}
	if !strings.Contains(received.Query, "timeout") {
		t.Errorf("query = %q", received.Query)
	}

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].FilePath != "internal/payments/charge.go" || chunks[0].Similarity != 0.91 {
		t.Errorf("first chunk = %+v", chunks[0])
	}
	if chunks[0].StartLine != 10 || chunks[0].EndLine != 42 {
		t.Errorf("line range = %d-%d, want 10-42", chunks[0].StartLine, chunks[0].EndLine)
	}
}

func TestClientSearch_ClampsMisbehavingResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignores topK and the similarity floor.
		json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]any{
				{"file_path": "a.go", "similarity": 0.9},
				{"file_path": "b.go", "similarity": 0.8},
				{"file_path": "c.go", "similarity": 0.7},
				{"file_path": "low.go", "similarity": 0.2},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL})
	chunks, err := client.Search(context.Background(), "proj-1", "q", 2, 0.5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want clamped 2", len(chunks))
	}
	for _, ch := range chunks {
		if ch.Similarity < 0.5 {
			t.Errorf("chunk %s below similarity floor: %v", ch.FilePath, ch.Similarity)
		}
	}
}

func TestClientSearch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("index rebuilding"))
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL})
	_, err := client.Search(context.Background(), "proj-1", "q", 10, 0.5)
	if err == nil {
		t.Fatal("expected error for HTTP 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should contain status code, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "index rebuilding") {
		t.Errorf("error should contain response body, got %q", err.Error())
	}
}

func TestClientSearch_NotConfigured(t *testing.T) {
	client := NewClient(Options{})
	_, err := client.Search(context.Background(), "proj-1", "q", 10, 0.5)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestClientSearch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Search(ctx, "proj-1", "q", 10, 0.5)
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestOptionsSetDefaults(t *testing.T) {
	var opts Options
	opts.SetDefaults()
	if opts.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", opts.Timeout)
	}
	if opts.RequestsPerSecond != 5 || opts.Burst != 5 {
		t.Errorf("rate = %v/%d, want 5/5", opts.RequestsPerSecond, opts.Burst)
	}
}
