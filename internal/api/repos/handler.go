// Package repos provides the sync endpoints an external repository
// indexer pushes commits and merged pull requests through. Rows are
// upserted so the indexer can replay overlapping windows safely.
package repos

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

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

const (
	maxBatchRows = 1000
	maxBodyBytes = 10 << 20
)

type Handler struct {
	storage storage.Storage
}

func NewHandler(store storage.Storage) *Handler {
	return &Handler{storage: store}
}

type CommitsRequest struct {
	Commits []*models.Commit `json:"commits"`
}

type PullsRequest struct {
	Pulls []*models.PullRequest `json:"pulls"`
}

// SyncResponse reports how many rows a sync call upserted.
type SyncResponse struct {
	Synced int `json:"synced"`
}

// SyncCommits upserts a batch of commits for {repoID}. The path
// repo ID is stamped over whatever the body rows carry.
func (h *Handler) SyncCommits(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repoID")
	if repoID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "repo id required")
		return
	}

	var req CommitsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if len(req.Commits) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "commits are required")
		return
	}
	if len(req.Commits) > maxBatchRows {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "batch exceeds maximum of 1000 rows")
		return
	}

	// The whole batch fails on the first bad row; the indexer is
	// trusted to retry with a fixed payload.
	for i, commit := range req.Commits {
		if err := validateCommit(commit); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed,
				errorAt("commit", i, err))
			return
		}
		commit.RepoID = repoID
	}

	if err := h.storage.Repos().UpsertCommits(r.Context(), req.Commits); err != nil {
		log.Printf("sync commits error: repo %s: %v", repoID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("synced %d commits for repo %s", len(req.Commits), repoID)
	jsonOK(w, &SyncResponse{Synced: len(req.Commits)})
}

// SyncPulls upserts a batch of pull requests for {repoID}. Unmerged
// rows are stored but never surface in correlation, which only reads
// merged PRs.
func (h *Handler) SyncPulls(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repoID")
	if repoID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "repo id required")
		return
	}

	var req PullsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if len(req.Pulls) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "pulls are required")
		return
	}
	if len(req.Pulls) > maxBatchRows {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "batch exceeds maximum of 1000 rows")
		return
	}

	for i, pr := range req.Pulls {
		if err := validatePullRequest(pr); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed,
				errorAt("pull", i, err))
			return
		}
		pr.RepoID = repoID
	}

	if err := h.storage.Repos().UpsertPullRequests(r.Context(), req.Pulls); err != nil {
		log.Printf("sync pulls error: repo %s: %v", repoID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("synced %d pull requests for repo %s", len(req.Pulls), repoID)
	jsonOK(w, &SyncResponse{Synced: len(req.Pulls)})
}

func errorAt(kind string, index int, err error) string {
	return fmt.Sprintf("%s %d: %s", kind, index, err)
}
