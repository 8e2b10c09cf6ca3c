// Package codesearch is the HTTP client for the external semantic
// code-search service. The indexing pipeline and embeddings live in
// that collaborator; this client only issues search queries over a
// project's already-indexed chunks.
package codesearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/internal/models"
)

// ErrNotConfigured is returned when no search endpoint is set. Callers
// treat it like any other search failure and degrade.
var ErrNotConfigured = errors.New("code search endpoint not configured")

// Searcher is the semantic search operation the correlation engine
// consumes. It may fail independently of correlation logic.
type Searcher interface {
	Search(ctx context.Context, projectID, query string, topK int, minSimilarity float64) ([]models.RelevantCodeChunk, error)
}

// Options configures the search client.
type Options struct {
	// Endpoint is the search service base URL. Empty disables search.
	Endpoint string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds one search request.
	Timeout time.Duration

	// RequestsPerSecond and Burst cap outbound load on the collaborator.
	RequestsPerSecond float64
	Burst             int
}

// SetDefaults fills in zero values.
func (o *Options) SetDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 5
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
}

// Client talks to the code-search service over HTTP.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a search client.
func NewClient(opts Options) *Client {
	opts.SetDefaults()
	return &Client{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

type searchRequest struct {
	ProjectID     string  `json:"project_id"`
	Query         string  `json:"query"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
}

type searchResponse struct {
	Chunks []models.RelevantCodeChunk `json:"chunks"`
}

// Search returns up to topK indexed chunks matching the query with
// similarity >= minSimilarity, best match first.
func (c *Client) Search(ctx context.Context, projectID, query string, topK int, minSimilarity float64) ([]models.RelevantCodeChunk, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(searchRequest{
		ProjectID:     projectID,
		Query:         query,
		TopK:          topK,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.CodeSearchDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.CodeSearchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("code search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CodeSearchRequests.WithLabelValues("error").Inc()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("code search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.CodeSearchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	// The service enforces topK and the similarity floor; clamp anyway
	// so a misbehaving response cannot inflate downstream scoring.
	chunks := result.Chunks[:0]
	for _, ch := range result.Chunks {
		if ch.Similarity < minSimilarity {
			continue
		}
		chunks = append(chunks, ch)
	}
	if topK > 0 && len(chunks) > topK {
		chunks = chunks[:topK]
	}

	metrics.CodeSearchRequests.WithLabelValues("ok").Inc()
	return chunks, nil
}
