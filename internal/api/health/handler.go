// Package health serves the liveness and readiness probes. Readiness
// covers the storage backends the server was started with: SQLite
// always, ClickHouse when span ingestion is enabled, Redis when
// notification dedup uses it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/spanlight/spanlight/pkg/config"
)

// readyTimeout bounds the combined backend probes.
const readyTimeout = 5 * time.Second

// Checker probes one backend dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler serves the probe endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewHandler creates a health handler with no registered checkers.
func NewHandler() *Handler {
	return &Handler{
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a dependency to the readiness probe. Only
// backends the server actually runs with get registered.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Status is the probe response body.
type Status struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health reports that the process is up, with the build version so a
// deploy can be identified from the edge.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Status{Status: "ok", Version: config.Version})
}

// Live is the liveness probe. Returns 200 whenever the process can
// serve HTTP.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Status{Status: "live"})
}

// Ready is the readiness probe. Probes every registered backend and
// returns 200 only when all respond.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	// Backends are independent, so probe them in parallel under the
	// shared deadline.
	errs := make([]error, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			errs[i] = c.Check(ctx)
		}(i, c)
	}
	wg.Wait()

	checks := make(map[string]string, len(checkers))
	ready := true
	for i, c := range checkers {
		if errs[i] != nil {
			checks[c.Name()] = errs[i].Error()
			ready = false
		} else {
			checks[c.Name()] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")

	resp := Status{Status: "ready", Checks: checks}
	if !ready {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(resp)
}
