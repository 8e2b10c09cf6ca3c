package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/internal/storage"
)

// Handler handles the token exchange endpoint.
type Handler struct {
	storage    storage.Storage
	jwtService *JWTService

	// adminKey authorizes unscoped admin tokens. Empty disables the
	// admin exchange entirely.
	adminKey []byte
}

// NewHandler creates a new auth handler.
func NewHandler(store storage.Storage, jwt *JWTService, adminKey string) *Handler {
	return &Handler{
		storage:    store,
		jwtService: jwt,
		adminKey:   []byte(adminKey),
	}
}

// Response helpers (local to avoid import cycle with api package)

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

// TokenResponse is returned on successful token exchange.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Error codes and messages
const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeUnauthorized  = "UNAUTHORIZED"
	errCodeInternalError = "INTERNAL_ERROR"
)

// TokenRequest is the request body for the token exchange. An empty
// project_id requests an admin token against the configured admin key.
type TokenRequest struct {
	ProjectID string `json:"project_id"`
	APIKey    string `json:"api_key"`
}

// Token exchanges a project API key (or the admin key) for a
// short-lived JWT.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "api_key required")
		return
	}

	if req.ProjectID == "" {
		h.adminToken(w, req.APIKey)
		return
	}

	ctx := r.Context()
	project, err := h.storage.Projects().GetByID(ctx, req.ProjectID)
	if err != nil {
		log.Printf("auth: token exchange: get project: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	// A missing project and a wrong key answer identically so the
	// endpoint cannot be used to enumerate project ids.
	if project == nil || !VerifyAPIKey(project.APIKeyHash, req.APIKey) {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		log.Printf("auth: token exchange failed for project %s", req.ProjectID)
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(project.ID, RoleProject)
	if err != nil {
		log.Printf("auth: generate token for project %s: %v", project.ID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	metrics.AuthTokensIssued.WithLabelValues(string(RoleProject)).Inc()
	log.Printf("auth: issued project token for %s (%s)", project.Name, project.ID)

	jsonOK(w, &TokenResponse{
		AccessToken: token,
		ExpiresIn:   h.jwtService.TTLSeconds(),
		TokenType:   "Bearer",
	})
}

func (h *Handler) adminToken(w http.ResponseWriter, key string) {
	if len(h.adminKey) == 0 || subtle.ConstantTimeCompare(h.adminKey, []byte(key)) != 1 {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		log.Printf("auth: admin token exchange failed")
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken("", RoleAdmin)
	if err != nil {
		log.Printf("auth: generate admin token: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	metrics.AuthTokensIssued.WithLabelValues(string(RoleAdmin)).Inc()
	log.Printf("auth: issued admin token")

	jsonOK(w, &TokenResponse{
		AccessToken: token,
		ExpiresIn:   h.jwtService.TTLSeconds(),
		TokenType:   "Bearer",
	})
}
