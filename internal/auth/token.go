// Package auth provides authentication primitives for the alert API. Two
// mechanisms are supported: a static operator token (bcrypt hash in config,
// for humans and cron) and HS256 service JWTs (for other services invoking
// the tick endpoint). See internal/middleware/auth.go for the request-time
// logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenLength is the length of the random part of a generated token in bytes
	TokenLength = 32

	// TokenPrefix marks operator tokens so leaked ones are recognizable in logs
	TokenPrefix = "phs"

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateToken creates a new random operator token.
// Returns: full token (to show once) and its bcrypt hash (to store in config).
func GenerateToken() (token string, hash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := fmt.Sprintf("%s_%s", TokenPrefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullToken), BcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}

	return fullToken, string(hashBytes), nil
}

// ValidateToken checks if a provided token matches the stored bcrypt hash
func ValidateToken(providedToken, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedToken))
	return err == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer phs_abc123xyz..." or "Bearer <jwt>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
