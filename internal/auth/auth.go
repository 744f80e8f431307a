package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCostFactor = 12
	HeaderAPIKey     = "X-API-KEY"
)

// HashAPIKey generates a bcrypt hash for the given API key secret.
// The hash goes into API_KEY_HASH; the secret is handed to the operator UI.
func HashAPIKey(apiKeySecret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(apiKeySecret), bcryptCostFactor)
	if err != nil {
		slog.Error("Failed to generate bcrypt hash for API key", slog.Any("error", err))
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckAPIKey compares a plaintext API key secret with a stored bcrypt hash.
func CheckAPIKey(apiKeySecret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKeySecret))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("Error comparing api key hash", slog.Any("error", err))
		}
		return false
	}
	return true
}

// APIKeyMiddleware rejects requests whose X-API-KEY does not match hash.
// An empty hash disables the check.
func APIKeyMiddleware(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderAPIKey)
		if key == "" || !CheckAPIKey(key, hash) {
			slog.WarnContext(c.Request.Context(), "Rejected request with missing or invalid API key",
				slog.String("path", c.FullPath()), slog.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}
