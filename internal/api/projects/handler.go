package projects

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spanlight/spanlight/internal/api/auth"
	"github.com/spanlight/spanlight/internal/api/middleware"
	"github.com/spanlight/spanlight/internal/models"
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
	errCodeConflict         = "CONFLICT"
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

// Response types
type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RepoID      string `json:"repo_id,omitempty"`
	RepoURL     string `json:"repo_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CreatedResponse carries the ingest key exactly once, at creation.
// Only the bcrypt hash is stored; the key cannot be shown again.
type CreatedResponse struct {
	ProjectResponse
	APIKey string `json:"api_key"`
}

// KeyResponse carries a freshly rotated ingest key.
type KeyResponse struct {
	APIKey string `json:"api_key"`
}

type Handler struct {
	storage storage.Storage
}

func NewHandler(store storage.Storage) *Handler {
	return &Handler{storage: store}
}

// Request types
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type RepositoryRequest struct {
	RepoID  string `json:"repo_id"`
	RepoURL string `json:"repo_url,omitempty"`
}

// List returns projects visible to the caller: all of them for admin
// tokens, just their own for project tokens.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if middleware.GetRole(ctx) != auth.RoleAdmin {
		project, err := h.storage.Projects().GetByID(ctx, middleware.GetProjectID(ctx))
		if err != nil {
			log.Printf("list projects error: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		resp := []*ProjectResponse{}
		if project != nil {
			resp = append(resp, projectToResponse(project))
		}
		jsonOK(w, resp)
		return
	}

	projects, err := h.storage.Projects().List(ctx)
	if err != nil {
		log.Printf("list projects error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := make([]*ProjectResponse, len(projects))
	for i, p := range projects {
		resp[i] = projectToResponse(p)
	}
	jsonOK(w, resp)
}

// Create creates a new project (admin only). The response carries the
// generated ingest key; it is not retrievable afterwards.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := ValidateName(req.Name); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()

	// Check name uniqueness
	existing, err := h.storage.Projects().GetByName(ctx, req.Name)
	if err != nil {
		log.Printf("create project error: check name: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if existing != nil {
		jsonError(w, http.StatusConflict, errCodeConflict, "project name already exists")
		return
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		log.Printf("create project error: generate key: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	now := time.Now()
	project := &models.Project{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		APIKeyHash:  hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.storage.Projects().Create(ctx, project); err != nil {
		log.Printf("create project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project created: %s (%s)", project.Name, project.ID)
	jsonCreated(w, &CreatedResponse{
		ProjectResponse: *projectToResponse(project),
		APIKey:          key,
	})
}

// GetByID returns a project by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	jsonOK(w, projectToResponse(project))
}

// Update updates a project's name or description (admin only).
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
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
		// Check uniqueness
		existing, err := h.storage.Projects().GetByName(ctx, req.Name)
		if err != nil {
			log.Printf("update project error: check name: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if existing != nil && existing.ID != project.ID {
			jsonError(w, http.StatusConflict, errCodeConflict, "project name already exists")
			return
		}
		project.Name = strings.TrimSpace(req.Name)
	}
	if req.Description != "" {
		project.Description = strings.TrimSpace(req.Description)
	}

	project.UpdatedAt = time.Now()

	if err := h.storage.Projects().Update(ctx, project); err != nil {
		log.Printf("update project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project updated: %s (%s)", project.Name, project.ID)
	jsonOK(w, projectToResponse(project))
}

// Delete deletes a project (admin only).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	if err := h.storage.Projects().Delete(r.Context(), project.ID); err != nil {
		log.Printf("delete project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project deleted: %s (%s)", project.Name, project.ID)
	jsonNoContent(w)
}

// LinkRepository sets or clears the project's source repository link
// (admin only). An empty repo_id unlinks; correlation then degrades to
// the no-repository result.
func (h *Handler) LinkRepository(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req RepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.RepoURL != "" {
		if err := ValidateRepoURL(req.RepoURL); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
	}

	project.RepoID = strings.TrimSpace(req.RepoID)
	project.RepoURL = strings.TrimSpace(req.RepoURL)
	if project.RepoID == "" {
		project.RepoURL = ""
	}
	project.UpdatedAt = time.Now()

	if err := h.storage.Projects().Update(r.Context(), project); err != nil {
		log.Printf("link repository error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	if project.RepoID != "" {
		log.Printf("project %s linked to repo %s", project.ID, project.RepoID)
	} else {
		log.Printf("project %s repository unlinked", project.ID)
	}
	jsonOK(w, projectToResponse(project))
}

// RotateKey replaces the project's ingest key (admin only). The old
// key stops working after the ingest verification cache expires.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		log.Printf("rotate key error: generate: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	project.APIKeyHash = hash
	project.UpdatedAt = time.Now()

	if err := h.storage.Projects().Update(r.Context(), project); err != nil {
		log.Printf("rotate key error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project %s api key rotated", project.ID)
	jsonOK(w, &KeyResponse{APIKey: key})
}

// loadProject reads the {id} project and enforces access. On any
// failure it writes the response and returns ok=false.
func (h *Handler) loadProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "project id required")
		return nil, false
	}

	ctx := r.Context()
	project, err := h.storage.Projects().GetByID(ctx, id)
	if err != nil {
		log.Printf("get project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil, false
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "project not found")
		return nil, false
	}
	if !middleware.CanAccessProject(ctx, project.ID) {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "no access to project")
		return nil, false
	}
	return project, true
}

func projectToResponse(p *models.Project) *ProjectResponse {
	return &ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		RepoID:      p.RepoID,
		RepoURL:     p.RepoURL,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}
