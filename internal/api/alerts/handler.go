package alerts

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeForbidden        = "FORBIDDEN"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// MetricSource reads the current metric value for an ad-hoc
// investigation.
type MetricSource interface {
	Metric(ctx context.Context, projectID string, alertType models.AlertType, start, end time.Time) (float64, int, error)
}

// Analyzer runs the trace window analysis.
type Analyzer interface {
	Analyze(ctx context.Context, in models.TraceAnalysisInput) (*models.TraceAnalysisOutput, error)
}

// Correlator ranks recent code changes against an analysis.
type Correlator interface {
	Correlate(ctx context.Context, in models.CorrelationInput) (*models.CodeCorrelationOutput, error)
}

// Response types
type AlertResponse struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Type            string   `json:"type"`
	Operator        string   `json:"operator"`
	Threshold       float64  `json:"threshold"`
	WindowMins      int      `json:"window_mins"`
	Severity        string   `json:"severity"`
	PendingMins     int      `json:"pending_mins"`
	CooldownMins    int      `json:"cooldown_mins"`
	Notify          []string `json:"notify"`
	Enabled         bool     `json:"enabled"`
	State           string   `json:"state"`
	StateChangedAt  string   `json:"state_changed_at"`
	LastTriggeredAt string   `json:"last_triggered_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// InvestigationResponse is the product of an ad-hoc investigation run.
type InvestigationResponse struct {
	Value       float64                       `json:"value"`
	SampleCount int                           `json:"sample_count"`
	Analysis    *models.TraceAnalysisOutput   `json:"analysis"`
	Correlation *models.CodeCorrelationOutput `json:"correlation"`
}

// Handler handles alert endpoints. State fields are owned by the
// evaluation loop and are never writable here.
type Handler struct {
	storage            storage.Storage
	metricSource       MetricSource
	analyzer           Analyzer
	correlator         Correlator
	investigateTimeout time.Duration
}

// NewHandler creates an alerts handler. metricSource, analyzer, and
// correlator may be nil, which disables the investigate endpoint.
func NewHandler(store storage.Storage, metricSource MetricSource, analyzer Analyzer, correlator Correlator, investigateTimeout time.Duration) *Handler {
	if investigateTimeout <= 0 {
		investigateTimeout = 2 * time.Minute
	}
	return &Handler{
		storage:            store,
		metricSource:       metricSource,
		analyzer:           analyzer,
		correlator:         correlator,
		investigateTimeout: investigateTimeout,
	}
}

// Request types
type CreateRequest struct {
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Operator     string   `json:"operator"`
	Threshold    float64  `json:"threshold"`
	WindowMins   int      `json:"window_mins"`
	Severity     string   `json:"severity"`
	PendingMins  int      `json:"pending_mins"`
	CooldownMins int      `json:"cooldown_mins"`
	Notify       []string `json:"notify"`
	Enabled      bool     `json:"enabled"`
}

type UpdateRequest struct {
	Name         string   `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Type         string   `json:"type,omitempty"`
	Operator     string   `json:"operator,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	WindowMins   *int     `json:"window_mins,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	PendingMins  *int     `json:"pending_mins,omitempty"`
	CooldownMins *int     `json:"cooldown_mins,omitempty"`
	Notify       []string `json:"notify,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

// List returns alerts visible to the caller, optionally filtered by
// project_id.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, ok := middleware.ScopedProjectID(ctx, r.URL.Query().Get("project_id"))
	if !ok {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}

	var alerts []*models.Alert
	var err error
	if projectID != "" {
		alerts, err = h.storage.Alerts().ListByProject(ctx, projectID)
	} else {
		alerts, err = h.storage.Alerts().List(ctx)
	}
	if err != nil {
		log.Printf("list alerts error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := make([]*AlertResponse, len(alerts))
	for i, a := range alerts {
		resp[i] = alertToResponse(a)
	}
	jsonOK(w, resp)
}

// Create creates a new alert in the INACTIVE state.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	projectID, ok := middleware.ScopedProjectID(ctx, req.ProjectID)
	if !ok {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}
	if projectID == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "project_id is required")
		return
	}

	if err := ValidateName(req.Name); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	alertType, err := ValidateType(req.Type)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	operator, err := ValidateOperator(req.Operator)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	severity, err := ValidateSeverity(req.Severity)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	project, err := h.storage.Projects().GetByID(ctx, projectID)
	if err != nil {
		log.Printf("create alert error: check project: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if project == nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "project not found")
		return
	}

	if err := h.checkChannels(ctx, projectID, req.Notify); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	now := time.Now()
	alert := &models.Alert{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		Name:           strings.TrimSpace(req.Name),
		Description:    strings.TrimSpace(req.Description),
		Type:           alertType,
		Operator:       operator,
		Threshold:      req.Threshold,
		WindowMins:     req.WindowMins,
		Severity:       severity,
		PendingMins:    req.PendingMins,
		CooldownMins:   req.CooldownMins,
		Notify:         req.Notify,
		Enabled:        req.Enabled,
		State:          models.StateInactive,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if alert.Notify == nil {
		alert.Notify = []string{}
	}

	if err := alert.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Alerts().Create(ctx, alert); err != nil {
		log.Printf("create alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("alert created: %s (%s)", alert.Name, alert.ID)
	jsonCreated(w, alertToResponse(alert))
}

// GetByID returns an alert by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.loadAlert(w, r)
	if !ok {
		return
	}
	jsonOK(w, alertToResponse(alert))
}

// Update updates an alert's rule fields. State, state_changed_at, and
// last_triggered_at belong to the evaluation loop and stay untouched.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.loadAlert(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()

	if req.Name != "" {
		if err := ValidateName(req.Name); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		alert.Name = strings.TrimSpace(req.Name)
	}
	if req.Description != nil {
		alert.Description = strings.TrimSpace(*req.Description)
	}
	if req.Type != "" {
		alertType, err := ValidateType(req.Type)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		alert.Type = alertType
	}
	if req.Operator != "" {
		operator, err := ValidateOperator(req.Operator)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		alert.Operator = operator
	}
	if req.Threshold != nil {
		alert.Threshold = *req.Threshold
	}
	if req.WindowMins != nil {
		alert.WindowMins = *req.WindowMins
	}
	if req.Severity != "" {
		severity, err := ValidateSeverity(req.Severity)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		alert.Severity = severity
	}
	if req.PendingMins != nil {
		alert.PendingMins = *req.PendingMins
	}
	if req.CooldownMins != nil {
		alert.CooldownMins = *req.CooldownMins
	}
	if req.Notify != nil {
		if err := h.checkChannels(ctx, alert.ProjectID, req.Notify); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		alert.Notify = req.Notify
	}
	if req.Enabled != nil {
		alert.Enabled = *req.Enabled
	}

	alert.UpdatedAt = time.Now()

	if err := alert.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Alerts().Update(ctx, alert); err != nil {
		log.Printf("update alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("alert updated: %s (%s)", alert.Name, alert.ID)
	jsonOK(w, alertToResponse(alert))
}

// Delete deletes an alert.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.loadAlert(w, r)
	if !ok {
		return
	}

	if err := h.storage.Alerts().Delete(r.Context(), alert.ID); err != nil {
		log.Printf("delete alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("alert deleted: %s (%s)", alert.Name, alert.ID)
	jsonNoContent(w)
}

// Investigate runs the analyzer and correlator against the alert's
// current window and returns the result without persisting it.
func (h *Handler) Investigate(w http.ResponseWriter, r *http.Request) {
	if h.metricSource == nil || h.analyzer == nil || h.correlator == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "investigation not configured")
		return
	}

	alert, ok := h.loadAlert(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.investigateTimeout)
	defer cancel()

	now := time.Now()
	start := now.Add(-time.Duration(alert.WindowMins) * time.Minute)

	value, samples, err := h.metricSource.Metric(ctx, alert.ProjectID, alert.Type, start, now)
	if err != nil {
		log.Printf("investigate alert %s: read metric: %v", alert.ID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	analysis, err := h.analyzer.Analyze(ctx, models.TraceAnalysisInput{
		ProjectID:   alert.ProjectID,
		AlertType:   alert.Type,
		AlertValue:  value,
		Threshold:   alert.Threshold,
		WindowStart: start,
		WindowEnd:   now,
	})
	if err != nil {
		log.Printf("investigate alert %s: analysis: %v", alert.ID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	correlation, err := h.correlator.Correlate(ctx, models.CorrelationInput{
		ProjectID:        alert.ProjectID,
		Analysis:         analysis,
		AlertTriggeredAt: now,
	})
	if err != nil {
		// Analysis alone is still worth returning.
		log.Printf("investigate alert %s: correlation: %v", alert.ID, err)
		correlation = models.EmptyCorrelation()
	}

	log.Printf("investigate alert %s (%s): %d patterns, %d suspect commits, %d suspect PRs",
		alert.Name, alert.ID, len(analysis.ErrorPatterns), len(correlation.SuspectedCommits), len(correlation.SuspectedPRs))

	jsonOK(w, &InvestigationResponse{
		Value:       value,
		SampleCount: samples,
		Analysis:    analysis,
		Correlation: correlation,
	})
}

// loadAlert reads the {id} alert and enforces project access. On any
// failure it writes the response and returns ok=false.
func (h *Handler) loadAlert(w http.ResponseWriter, r *http.Request) (*models.Alert, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return nil, false
	}

	ctx := r.Context()
	alert, err := h.storage.Alerts().GetByID(ctx, id)
	if err != nil {
		log.Printf("get alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil, false
	}
	if alert == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return nil, false
	}
	if !middleware.CanAccessProject(ctx, alert.ProjectID) {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return nil, false
	}
	return alert, true
}

// checkChannels verifies every notify id exists and belongs to the
// alert's project.
func (h *Handler) checkChannels(ctx context.Context, projectID string, notify []string) error {
	if len(notify) == 0 {
		return nil
	}
	channels, err := h.storage.Channels().GetByIDs(ctx, notify)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.NotificationChannel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	for _, id := range notify {
		ch, ok := byID[id]
		if !ok {
			return &validationError{msg: "notification channel not found: " + id}
		}
		if ch.ProjectID != projectID {
			return &validationError{msg: "notification channel belongs to a different project: " + id}
		}
	}
	return nil
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func alertToResponse(a *models.Alert) *AlertResponse {
	resp := &AlertResponse{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		Name:           a.Name,
		Description:    a.Description,
		Type:           string(a.Type),
		Operator:       string(a.Operator),
		Threshold:      a.Threshold,
		WindowMins:     a.WindowMins,
		Severity:       string(a.Severity),
		PendingMins:    a.EffectivePendingMins(),
		CooldownMins:   a.EffectiveCooldownMins(),
		Notify:         a.Notify,
		Enabled:        a.Enabled,
		State:          string(a.State),
		StateChangedAt: a.StateChangedAt.Format(time.RFC3339),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
	if a.LastTriggeredAt != nil {
		resp.LastTriggeredAt = a.LastTriggeredAt.Format(time.RFC3339)
	}
	return resp
}
