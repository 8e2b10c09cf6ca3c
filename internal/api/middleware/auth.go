package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/spanlight/spanlight/internal/api/auth"
)

// Context keys for storing principal information.
type contextKey string

const (
	projectIDKey contextKey = "project_id"
	roleKey      contextKey = "role"
	claimsKey    contextKey = "claims"
)

// jsonUnauthorized writes an unauthorized error response.
func jsonUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": "invalid or expired token",
		},
	})
}

// jsonForbidden writes a forbidden error response.
func jsonForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "FORBIDDEN",
			"message": "access denied",
		},
	})
}

// JWTAuth returns middleware that validates JWT tokens.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				jsonUnauthorized(w)
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				jsonUnauthorized(w)
				return
			}

			tokenString := parts[1]

			// Validate token
			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				log.Printf("JWT auth failed for %s: %v", r.RemoteAddr, err)
				jsonUnauthorized(w)
				return
			}

			ctx := WithPrincipal(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPrincipal stores the validated token claims on the context.
func WithPrincipal(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, projectIDKey, claims.ProjectID)
	ctx = context.WithValue(ctx, roleKey, claims.Role)
	return context.WithValue(ctx, claimsKey, claims)
}

// RequireAdmin returns middleware that rejects non-admin tokens.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRole(r.Context()) != auth.RoleAdmin {
			jsonForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetProjectID returns the token's project ID from context. Empty for
// admin tokens.
func GetProjectID(ctx context.Context) string {
	if v := ctx.Value(projectIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetRole returns the token role from context.
func GetRole(ctx context.Context) auth.Role {
	if v := ctx.Value(roleKey); v != nil {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}

// CanAccessProject reports whether the token in context may touch the
// given project's resources. Admin tokens may touch everything.
func CanAccessProject(ctx context.Context, projectID string) bool {
	if GetRole(ctx) == auth.RoleAdmin {
		return true
	}
	own := GetProjectID(ctx)
	return own != "" && own == projectID
}

// ScopedProjectID resolves the project a request operates on: project
// tokens are pinned to their own project and any explicit requested id
// must match; admin tokens use the requested id as-is. The boolean is
// false when a project token asks for a foreign project.
func ScopedProjectID(ctx context.Context, requested string) (string, bool) {
	if GetRole(ctx) == auth.RoleAdmin {
		return requested, true
	}
	own := GetProjectID(ctx)
	if requested != "" && requested != own {
		return "", false
	}
	return own, true
}
