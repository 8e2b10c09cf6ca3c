// Package triggers provides read-only HTTP handlers for alert trigger
// history. Triggers are written by the evaluation loop only.
package triggers

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spanlight/spanlight/internal/api/middleware"
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
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeForbidden     = "FORBIDDEN"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

// Handler handles trigger history endpoints.
type Handler struct {
	storage storage.Storage
}

// NewHandler creates a triggers handler.
func NewHandler(store storage.Storage) *Handler {
	return &Handler{storage: store}
}

// TriggerResponse represents a trigger in API responses. Analysis and
// correlation pass through as raw JSON so clients receive objects, not
// re-encoded strings.
type TriggerResponse struct {
	ID           string          `json:"id"`
	AlertID      string          `json:"alert_id"`
	AlertName    string          `json:"alert_name"`
	ProjectID    string          `json:"project_id"`
	State        string          `json:"state"`
	Severity     string          `json:"severity"`
	Value        float64         `json:"value"`
	Threshold    float64         `json:"threshold"`
	ChannelCount int             `json:"channel_count"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	Correlation  json.RawMessage `json:"correlation,omitempty"`
	TriggeredAt  string          `json:"triggered_at"`
	CreatedAt    string          `json:"created_at"`
}

// TriggersResponse wraps a paginated list of triggers.
type TriggersResponse struct {
	Items      []*TriggerResponse `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
}

// List handles GET /api/v1/triggers - paginated trigger history,
// optionally filtered by alert_id or project_id.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

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
	offset := (page - 1) * perPage

	var (
		triggers []*models.AlertTrigger
		total    int64
	)

	if alertID := q.Get("alert_id"); alertID != "" {
		// Resolve the alert first so foreign triggers do not leak
		// through the alert_id filter.
		alert, aerr := h.storage.Alerts().GetByID(ctx, alertID)
		if aerr != nil {
			log.Printf("list triggers error: load alert: %v", aerr)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if alert == nil {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
			return
		}
		if !middleware.CanAccessProject(ctx, alert.ProjectID) {
			jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
			return
		}
		triggers, total, err = h.storage.Triggers().ListByAlert(ctx, alertID, perPage, offset)
	} else {
		projectID, ok := middleware.ScopedProjectID(ctx, q.Get("project_id"))
		if !ok {
			jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
			return
		}
		if projectID != "" {
			triggers, total, err = h.storage.Triggers().ListByProject(ctx, projectID, perPage, offset)
		} else {
			triggers, total, err = h.storage.Triggers().List(ctx, perPage, offset)
		}
	}
	if err != nil {
		log.Printf("list triggers error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	items := make([]*TriggerResponse, len(triggers))
	for i, trigger := range triggers {
		items[i] = triggerToResponse(trigger)
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(perPage)))
	}

	jsonOK(w, &TriggersResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// GetByID handles GET /api/v1/triggers/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "trigger id required")
		return
	}

	ctx := r.Context()
	trigger, err := h.storage.Triggers().GetByID(ctx, id)
	if err != nil {
		log.Printf("get trigger error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if trigger == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "trigger not found")
		return
	}
	if !middleware.CanAccessProject(ctx, trigger.ProjectID) {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}

	jsonOK(w, triggerToResponse(trigger))
}

func triggerToResponse(t *models.AlertTrigger) *TriggerResponse {
	resp := &TriggerResponse{
		ID:           t.ID,
		AlertID:      t.AlertID,
		AlertName:    t.AlertName,
		ProjectID:    t.ProjectID,
		State:        string(t.State),
		Severity:     string(t.Severity),
		Value:        t.Value,
		Threshold:    t.Threshold,
		ChannelCount: t.ChannelCount,
		TriggeredAt:  t.TriggeredAt.Format(time.RFC3339),
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
	if t.Analysis != "" {
		resp.Analysis = json.RawMessage(t.Analysis)
	}
	if t.Correlation != "" {
		resp.Correlation = json.RawMessage(t.Correlation)
	}
	return resp
}
