// Package spans provides HTTP handlers for span query, statistics, and
// streaming endpoints.
package spans

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spanlight/spanlight/internal/api/middleware"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/stats"
	"github.com/spanlight/spanlight/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

type apiResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeForbidden     = "FORBIDDEN"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// Handler handles span query endpoints.
type Handler struct {
	spanStorage storage.SpanStorage

	// maxRange bounds the queryable time range. Zero means unbounded.
	maxRange time.Duration
}

// NewHandler creates a new spans handler.
func NewHandler(spanStore storage.SpanStorage, maxRange time.Duration) *Handler {
	return &Handler{spanStorage: spanStore, maxRange: maxRange}
}

// SpanResponse represents a span in API responses.
type SpanResponse struct {
	ID               string  `json:"id"`
	TraceID          string  `json:"trace_id"`
	ParentSpanID     string  `json:"parent_span_id,omitempty"`
	ProjectID        string  `json:"project_id"`
	Name             string  `json:"name"`
	Level            string  `json:"level"`
	StatusMessage    string  `json:"status_message,omitempty"`
	Model            string  `json:"model,omitempty"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time,omitempty"`
	LatencyMs        float64 `json:"latency_ms,omitempty"`
	PromptTokens     int64   `json:"prompt_tokens,omitempty"`
	CompletionTokens int64   `json:"completion_tokens,omitempty"`
	TotalCost        float64 `json:"total_cost,omitempty"`
	Output           string  `json:"output,omitempty"`
}

// SpansResponse wraps a paginated list of spans.
type SpansResponse struct {
	Items      []*SpanResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	TotalPages int             `json:"total_pages"`
}

// StatsResponse contains aggregated span statistics for one window.
type StatsResponse struct {
	TotalSpans   int64   `json:"total_spans"`
	ErrorCount   int64   `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
	Completed    int64   `json:"completed_spans"`
	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`
}

// Query handles GET /api/v1/spans - query spans with filters and
// pagination.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if h.spanStorage == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "span storage not configured")
		return
	}

	ctx := r.Context()
	q := r.URL.Query()

	projectID, ok := middleware.ScopedProjectID(ctx, q.Get("project_id"))
	if !ok {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}
	if projectID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "project_id is required")
		return
	}

	startTime, endTime, ok := h.parseRange(w, q.Get("start"), q.Get("end"))
	if !ok {
		return
	}

	// Parse pagination
	page := 1
	var err error
	if pageStr := q.Get("page"); pageStr != "" {
		page, err = strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid page number")
			return
		}
	}

	perPage := 50
	if perPageStr := q.Get("per_page"); perPageStr != "" {
		perPage, err = strconv.Atoi(perPageStr)
		if err != nil || perPage < 1 || perPage > 1000 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "per_page must be between 1 and 1000")
			return
		}
	}

	// Level is stored in canonical uppercase form.
	level := ""
	if levelStr := q.Get("level"); levelStr != "" {
		level = string(models.ParseSpanLevel(levelStr))
	}

	orderAsc := false
	if od := q.Get("order_dir"); od != "" {
		switch strings.ToLower(od) {
		case "desc":
			orderAsc = false
		case "asc":
			orderAsc = true
		default:
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "order_dir must be asc or desc")
			return
		}
	}

	filter := &storage.SpanFilter{
		ProjectID:       projectID,
		StartTime:       startTime,
		EndTime:         endTime,
		TraceID:         q.Get("trace_id"),
		Level:           level,
		Name:            q.Get("name"),
		Model:           q.Get("model"),
		MessageContains: q.Get("q"),
		Limit:           perPage,
		Offset:          (page - 1) * perPage,
		OrderAsc:        orderAsc,
	}

	result, err := h.spanStorage.Spans().Query(ctx, filter)
	if err != nil {
		log.Printf("span query error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	items := make([]*SpanResponse, len(result.Spans))
	for i, span := range result.Spans {
		items[i] = spanToResponse(span)
	}

	totalPages := 0
	if result.Total > 0 {
		totalPages = int(math.Ceil(float64(result.Total) / float64(perPage)))
	}

	jsonOK(w, &SpansResponse{
		Items:      items,
		Total:      result.Total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// Stats handles GET /api/v1/spans/stats - error rate and latency
// percentiles over one window.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.spanStorage == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "span storage not configured")
		return
	}

	ctx := r.Context()
	q := r.URL.Query()

	projectID, ok := middleware.ScopedProjectID(ctx, q.Get("project_id"))
	if !ok {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}
	if projectID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "project_id is required")
		return
	}

	startTime, endTime, ok := h.parseRange(w, q.Get("start"), q.Get("end"))
	if !ok {
		return
	}

	// Both aggregates hit ClickHouse; run them in parallel.
	var (
		total, errored int64
		latencies      []float64
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		total, errored, err = h.spanStorage.Spans().ErrorCounts(gCtx, projectID, startTime, endTime)
		if err != nil {
			log.Printf("error counts query error: %v", err)
		}
		return err
	})

	g.Go(func() error {
		var err error
		latencies, err = h.spanStorage.Spans().Latencies(gCtx, projectID, startTime, endTime)
		if err != nil {
			log.Printf("latencies query error: %v", err)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := &StatsResponse{
		TotalSpans: total,
		ErrorCount: errored,
		Completed:  int64(len(latencies)),
	}
	if total > 0 {
		resp.ErrorRate = float64(errored) / float64(total) * 100
	}
	if len(latencies) > 0 {
		resp.LatencyP50Ms = stats.Percentile(latencies, 50)
		resp.LatencyP95Ms = stats.Percentile(latencies, 95)
		resp.LatencyP99Ms = stats.Percentile(latencies, 99)
	}

	jsonOK(w, resp)
}

// Stream handles GET /api/v1/spans/stream - SSE streaming of spans.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.spanStorage == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "span storage not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "streaming not supported")
		return
	}

	ctx := r.Context()
	q := r.URL.Query()

	projectID, ok := middleware.ScopedProjectID(ctx, q.Get("project_id"))
	if !ok {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}
	if projectID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "project_id is required")
		return
	}

	// Parse start time (default: last 5 minutes)
	startTime := time.Now().Add(-5 * time.Minute)
	if startStr := q.Get("start"); startStr != "" {
		var err error
		startTime, err = time.Parse(time.RFC3339, startStr)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid start time format (use RFC3339)")
			return
		}
	}

	level := ""
	if levelStr := q.Get("level"); levelStr != "" {
		level = string(models.ParseSpanLevel(levelStr))
	}

	baseFilter := &storage.SpanFilter{
		ProjectID:       projectID,
		TraceID:         q.Get("trace_id"),
		Level:           level,
		Name:            q.Get("name"),
		Model:           q.Get("model"),
		MessageContains: q.Get("q"),
		Limit:           100,
		OrderAsc:        true, // oldest first for streaming
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := NewSSEWriter(w, flusher)

	// Tell clients to back off before reconnecting.
	sse.SendRetry(5000)

	lastTimestamp := startTime
	pollInterval := time.Second
	heartbeatInterval := 15 * time.Second
	lastHeartbeat := time.Now()

	// Stream timeout (30 minutes)
	deadline := time.Now().Add(30 * time.Minute)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return

		case <-ticker.C:
			if time.Now().After(deadline) {
				sse.SendEvent("close", `{"reason":"timeout"}`)
				return
			}

			filter := *baseFilter
			filter.StartTime = lastTimestamp
			filter.EndTime = time.Now()

			result, err := h.spanStorage.Spans().Query(ctx, &filter)
			if err != nil {
				log.Printf("stream query error: %v", err)
				continue
			}

			for _, span := range result.Spans {
				// The filter lower bound is inclusive; skip spans
				// already sent on a previous poll.
				if !span.StartTime.After(lastTimestamp) {
					continue
				}

				data, _ := json.Marshal(spanToResponse(span))
				if err := sse.SendEvent("span", string(data)); err != nil {
					return // Client disconnected
				}
				lastTimestamp = span.StartTime
			}

			if time.Since(lastHeartbeat) >= heartbeatInterval {
				sse.SendComment("keepalive")
				lastHeartbeat = time.Now()
			}
		}
	}
}

// parseRange reads start (required) and end (default now) and applies
// the configured range cap. On failure it writes the error response
// and returns ok=false.
func (h *Handler) parseRange(w http.ResponseWriter, startStr, endStr string) (time.Time, time.Time, bool) {
	if startStr == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "start time is required")
		return time.Time{}, time.Time{}, false
	}
	startTime, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid start time format (use RFC3339)")
		return time.Time{}, time.Time{}, false
	}

	endTime := time.Now()
	if endStr != "" {
		endTime, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid end time format (use RFC3339)")
			return time.Time{}, time.Time{}, false
		}
	}

	if startTime.After(endTime) {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "start time must be before end time")
		return time.Time{}, time.Time{}, false
	}
	if h.maxRange > 0 && endTime.Sub(startTime) > h.maxRange {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest,
			fmt.Sprintf("time range exceeds maximum of %s", h.maxRange))
		return time.Time{}, time.Time{}, false
	}
	return startTime, endTime, true
}

// spanToResponse converts a Span to SpanResponse.
func spanToResponse(s *models.Span) *SpanResponse {
	resp := &SpanResponse{
		ID:               s.ID,
		TraceID:          s.TraceID,
		ParentSpanID:     s.ParentSpanID,
		ProjectID:        s.ProjectID,
		Name:             s.Name,
		Level:            string(s.Level),
		StatusMessage:    s.StatusMessage,
		Model:            s.Model,
		StartTime:        s.StartTime.Format(time.RFC3339Nano),
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.CompletionTokens,
		TotalCost:        s.TotalCost,
		Output:           s.Output,
	}
	if s.EndTime != nil {
		resp.EndTime = s.EndTime.Format(time.RFC3339Nano)
		resp.LatencyMs = s.LatencyMs()
	}
	return resp
}
