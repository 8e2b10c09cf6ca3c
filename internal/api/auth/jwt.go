// Package auth provides API-key verification and JWT issuance for the
// management API. Tokens are project-scoped; the admin key yields an
// unscoped admin token.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the access level a token carries.
type Role string

const (
	// RoleProject grants access to one project's resources.
	RoleProject Role = "project"

	// RoleAdmin grants access to all projects and management routes.
	RoleAdmin Role = "admin"
)

// Claims represents the JWT claims for access tokens. ProjectID is
// empty for admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"pid,omitempty"`
	Role      Role   `json:"role"`
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret []byte, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: secret,
		ttl:    ttl,
		issuer: "spanlight",
	}
}

// GenerateToken creates a new JWT access token for a project or admin
// principal. Pass an empty projectID with RoleAdmin for admin tokens.
func (s *JWTService) GenerateToken(projectID string, role Role) (string, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   projectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ProjectID: projectID,
		Role:      role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// Verify issuer
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	switch claims.Role {
	case RoleProject, RoleAdmin:
	default:
		return nil, fmt.Errorf("invalid role: %q", claims.Role)
	}
	if claims.Role == RoleProject && claims.ProjectID == "" {
		return nil, fmt.Errorf("project token without project id")
	}

	return claims, nil
}

// TTL returns the token time-to-live duration.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// TTLSeconds returns the token TTL in seconds.
func (s *JWTService) TTLSeconds() int {
	return int(s.ttl.Seconds())
}
