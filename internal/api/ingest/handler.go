// Package ingest implements the span ingestion endpoint. Clients
// authenticate each batch with the project's ingest key instead of a
// JWT: SDKs ship the key and cannot run a token exchange per batch.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spanlight/spanlight/internal/api/auth"
	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeUnauthorized     = "UNAUTHORIZED"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeUnavailable      = "SERVICE_UNAVAILABLE"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonAccepted(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

const (
	// maxBatchSpans bounds one ingest request.
	maxBatchSpans = 1000

	// maxBodyBytes bounds the request body size.
	maxBodyBytes = 10 << 20

	// keyCacheTTL is how long a bcrypt-verified key stays trusted
	// before the next batch pays the hash cost again.
	keyCacheTTL = 5 * time.Minute
)

// Handler handles span batch ingestion.
type Handler struct {
	storage storage.Storage
	buffer  *storage.SpanBuffer

	// verified caches fingerprints of keys that passed the bcrypt
	// check so a hot SDK does not re-verify on every batch.
	mu       sync.Mutex
	verified map[[32]byte]time.Time
}

// NewHandler creates an ingest handler.
func NewHandler(store storage.Storage, buffer *storage.SpanBuffer) *Handler {
	return &Handler{
		storage:  store,
		buffer:   buffer,
		verified: make(map[[32]byte]time.Time),
	}
}

// IngestRequest is a batch of spans.
type IngestRequest struct {
	Spans []*models.Span `json:"spans"`
}

// IngestResponse reports how many spans the batch contributed.
type IngestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Ingest accepts a span batch, validates it, and enqueues it for batch
// insertion. Returns 202: acceptance means buffered, not yet stored.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.buffer == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeUnavailable, "span ingestion not configured")
		return
	}

	projectID := r.Header.Get("X-Project-ID")
	apiKey := r.Header.Get("X-API-Key")
	if projectID == "" || apiKey == "" {
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "missing project id or api key")
		return
	}

	if !h.authorize(r.Context(), projectID, apiKey) {
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid credentials")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if len(req.Spans) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "spans required")
		return
	}
	if len(req.Spans) > maxBatchSpans {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed,
			fmt.Sprintf("batch exceeds %d spans", maxBatchSpans))
		return
	}

	accepted := make([]*models.Span, 0, len(req.Spans))
	rejected := 0
	for _, span := range req.Spans {
		if err := ValidateSpan(span); err != nil {
			rejected++
			continue
		}
		// The authenticated project wins over whatever the body says.
		span.ProjectID = projectID
		if span.ID == "" {
			span.ID = uuid.New().String()
		}
		span.Level = models.ParseSpanLevel(string(span.Level))
		accepted = append(accepted, span)
	}

	metrics.IngestBatchesTotal.Inc()
	metrics.IngestRejectedTotal.Add(float64(rejected))

	if len(accepted) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "no valid spans in batch")
		return
	}

	if err := h.buffer.AddBatch(accepted); err != nil {
		// A failed inline flush re-queues the spans; they retry on the
		// next flush tick.
		log.Printf("ingest: buffer flush: %v", err)
	}
	metrics.IngestSpansTotal.Add(float64(len(accepted)))

	jsonAccepted(w, IngestResponse{Accepted: len(accepted), Rejected: rejected})
}

// authorize checks the ingest key against the project's stored hash,
// consulting the verified-key cache first.
func (h *Handler) authorize(ctx context.Context, projectID, key string) bool {
	if !auth.ValidKeyShape(key) {
		return false
	}

	fp := sha256.Sum256([]byte(projectID + ":" + key))
	now := time.Now()

	h.mu.Lock()
	until, ok := h.verified[fp]
	h.mu.Unlock()
	if ok && now.Before(until) {
		return true
	}

	project, err := h.storage.Projects().GetByID(ctx, projectID)
	if err != nil {
		log.Printf("ingest auth: load project: %v", err)
		return false
	}
	if project == nil || !auth.VerifyAPIKey(project.APIKeyHash, key) {
		return false
	}

	h.mu.Lock()
	h.verified[fp] = now.Add(keyCacheTTL)
	// Rotated keys age out with the TTL; drop stale fingerprints while
	// we hold the lock.
	for k, exp := range h.verified {
		if now.After(exp) {
			delete(h.verified, k)
		}
	}
	h.mu.Unlock()
	return true
}
