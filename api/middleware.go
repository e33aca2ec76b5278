package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clipforge/config"
)

// AuthMiddleware guards the admin API with a single shared bearer token.
// When auth is disabled every request passes through untouched.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnable {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		token, ok := cutBearer(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expected a bearer token"})
			return
		}
		if token != cfg.AuthKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}

// cutBearer extracts the token from a "Bearer <token>" header. The scheme
// is matched case-insensitively per RFC 7235.
func cutBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
