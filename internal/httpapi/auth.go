package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

type AuthConfig struct {
	// APIKey is compared in constant time against the request header.
	APIKey string
	// APIKeyHash is a bcrypt hash of the key; used when the plain key is
	// not kept in the environment. Either field enables the middleware.
	APIKeyHash string
}

func (a AuthConfig) enabled() bool {
	return strings.TrimSpace(a.APIKey) != "" || strings.TrimSpace(a.APIKeyHash) != ""
}

func APIKeyMiddleware(cfg AuthConfig) gin.HandlerFunc {
	if !cfg.enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if presented == "" || !cfg.keyMatches(presented) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

func (a AuthConfig) keyMatches(presented string) bool {
	if key := strings.TrimSpace(a.APIKey); key != "" {
		return subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1
	}
	hash := strings.TrimSpace(a.APIKeyHash)
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}
