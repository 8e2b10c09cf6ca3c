// Package channels provides HTTP handlers for notification channel
// management. Channel settings are encrypted before storage and are
// never returned by the API; route expressions are compiled at
// admission so a bad expression fails the request, not the dispatch.
package channels

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spanlight/spanlight/internal/api/middleware"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/notifier"
	"github.com/spanlight/spanlight/internal/storage"
)

// Response helpers (same pattern as alerts)
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
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ChannelResponse is a channel without its settings payload.
type ChannelResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	RouteExpr string `json:"route_expr,omitempty"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Handler struct {
	storage storage.Storage
}

func NewHandler(store storage.Storage) *Handler {
	return &Handler{storage: store}
}

// Request types
type CreateRequest struct {
	ProjectID string                `json:"project_id"`
	Name      string                `json:"name"`
	Type      string                `json:"type"`
	Config    *models.ChannelConfig `json:"config,omitempty"`
	RouteExpr string                `json:"route_expr,omitempty"`
	Enabled   *bool                 `json:"enabled,omitempty"`
}

type UpdateRequest struct {
	Name      string                `json:"name,omitempty"`
	Config    *models.ChannelConfig `json:"config,omitempty"`
	RouteExpr *string               `json:"route_expr,omitempty"`
	Enabled   *bool                 `json:"enabled,omitempty"`
}

// List returns the channels of a project.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, ok := middleware.ScopedProjectID(ctx, r.URL.Query().Get("project_id"))
	if !ok {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return
	}
	if projectID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "project_id is required")
		return
	}

	channels, err := h.storage.Channels().ListByProject(ctx, projectID)
	if err != nil {
		log.Printf("list channels error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := make([]*ChannelResponse, len(channels))
	for i, c := range channels {
		resp[i] = channelToResponse(c)
	}
	jsonOK(w, resp)
}

// Create creates a notification channel. The settings payload is
// validated for the channel type, encrypted, and stored; it is not
// echoed back.
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
	chanType, err := ValidateType(req.Type)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateConfig(chanType, req.Config); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	routeExpr := strings.TrimSpace(req.RouteExpr)
	if routeExpr != "" {
		if _, err := notifier.NewRouteMatcher(routeExpr); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid route expression: "+err.Error())
			return
		}
	}

	project, err := h.storage.Projects().GetByID(ctx, projectID)
	if err != nil {
		log.Printf("create channel error: check project: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if project == nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "project not found")
		return
	}

	encrypted, err := h.encryptConfig(req.Config)
	if err != nil {
		log.Printf("create channel error: encrypt config: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	channel := &models.NotificationChannel{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		Name:            strings.TrimSpace(req.Name),
		Type:            chanType,
		ConfigEncrypted: encrypted,
		RouteExpr:       routeExpr,
		Enabled:         enabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.storage.Channels().Create(ctx, channel); err != nil {
		log.Printf("create channel error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("channel created: %s (%s, %s)", channel.Name, channel.ID, channel.Type)
	jsonCreated(w, channelToResponse(channel))
}

// GetByID returns a channel by ID, settings excluded.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.loadChannel(w, r)
	if !ok {
		return
	}
	jsonOK(w, channelToResponse(channel))
}

// Update updates a channel. A provided settings payload replaces the
// stored one wholesale after re-validation and re-encryption.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.loadChannel(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		if err := ValidateName(req.Name); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		channel.Name = strings.TrimSpace(req.Name)
	}

	if req.Config != nil {
		if err := ValidateConfig(channel.Type, req.Config); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		encrypted, err := h.encryptConfig(req.Config)
		if err != nil {
			log.Printf("update channel error: encrypt config: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		channel.ConfigEncrypted = encrypted
	}

	if req.RouteExpr != nil {
		routeExpr := strings.TrimSpace(*req.RouteExpr)
		if routeExpr != "" {
			if _, err := notifier.NewRouteMatcher(routeExpr); err != nil {
				jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid route expression: "+err.Error())
				return
			}
		}
		channel.RouteExpr = routeExpr
	}

	if req.Enabled != nil {
		channel.Enabled = *req.Enabled
	}

	channel.UpdatedAt = time.Now()

	if err := h.storage.Channels().Update(r.Context(), channel); err != nil {
		log.Printf("update channel error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("channel updated: %s (%s)", channel.Name, channel.ID)
	jsonOK(w, channelToResponse(channel))
}

// Delete deletes a channel. Alerts that still list it simply notify
// one channel fewer.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.loadChannel(w, r)
	if !ok {
		return
	}

	if err := h.storage.Channels().Delete(r.Context(), channel.ID); err != nil {
		log.Printf("delete channel error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("channel deleted: %s (%s)", channel.Name, channel.ID)
	jsonNoContent(w)
}

// loadChannel reads the {id} channel and enforces project access. On
// any failure it writes the response and returns ok=false.
func (h *Handler) loadChannel(w http.ResponseWriter, r *http.Request) (*models.NotificationChannel, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "channel id required")
		return nil, false
	}

	ctx := r.Context()
	channel, err := h.storage.Channels().GetByID(ctx, id)
	if err != nil {
		log.Printf("get channel error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil, false
	}
	if channel == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "channel not found")
		return nil, false
	}
	if !middleware.CanAccessProject(ctx, channel.ProjectID) {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return nil, false
	}
	return channel, true
}

// encryptConfig marshals and encrypts a settings payload. A nil
// payload (log channels) stores an encrypted empty object so decrypt
// always yields valid JSON.
func (h *Handler) encryptConfig(config *models.ChannelConfig) ([]byte, error) {
	if config == nil {
		config = &models.ChannelConfig{}
	}
	plaintext, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	return h.storage.Channels().EncryptConfig(plaintext)
}

func channelToResponse(c *models.NotificationChannel) *ChannelResponse {
	return &ChannelResponse{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		Name:      c.Name,
		Type:      string(c.Type),
		RouteExpr: c.RouteExpr,
		Enabled:   c.Enabled,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}
