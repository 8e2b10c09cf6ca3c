package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// apiKeyPrefix marks Spanlight ingest keys so leaked keys are
// recognizable in secret scanners.
const apiKeyPrefix = "slk_"

// GenerateAPIKey creates a new project API key. Returns the plaintext
// key, shown to the caller exactly once, and its bcrypt hash for
// storage.
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}

	key = apiKeyPrefix + base64.RawURLEncoding.EncodeToString(keyBytes)
	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey returns the bcrypt hash of a plaintext key.
func HashAPIKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hashed), nil
}

// VerifyAPIKey reports whether the plaintext key matches the stored
// bcrypt hash.
func VerifyAPIKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// ValidKeyShape does a cheap sanity check before the bcrypt compare so
// obviously malformed keys are rejected without burning hash time.
func ValidKeyShape(key string) bool {
	return strings.HasPrefix(key, apiKeyPrefix) && len(key) > len(apiKeyPrefix)
}
