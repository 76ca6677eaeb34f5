package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/etwicaksono/droid-remote/internal/common/config"
)

// publicPaths skip authentication entirely.
var publicPaths = map[string]bool{
	"/":           true,
	"/health":     true,
	"/auth/login": true,
	"/docs":       true,
}

func secretMatches(provided, expected string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// sharedSecret extracts the shared secret from either accepted header.
func sharedSecret(c *gin.Context) string {
	if v := c.GetHeader("X-API-Key"); v != "" {
		return v
	}
	return c.GetHeader("X-Bridge-Secret")
}

// RequireSecret guards the hook group: only the configured shared secret is
// accepted. An empty secret only passes config validation under
// BRIDGE_ALLOW_INSECURE, in which case the hook surface runs open too.
func RequireSecret(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Secret == "" {
			c.Next()
			return
		}
		if !secretMatches(sharedSecret(c), cfg.Secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireAuth guards the UI group: a bearer token, the shared secret, or
// (for socket upgrades only) a ?token= query parameter. With neither a
// secret nor login credentials configured the surface runs open; config
// validation only permits that combination under BRIDGE_ALLOW_INSECURE.
func RequireAuth(cfg config.AuthConfig, tokens *TokenService, socketPath string) gin.HandlerFunc {
	open := cfg.Secret == "" && cfg.Username == ""
	return func(c *gin.Context) {
		if open {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if publicPaths[path] || strings.HasPrefix(path, "/docs/") {
			c.Next()
			return
		}

		if secretMatches(sharedSecret(c), cfg.Secret) {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" && c.Request.URL.Path == socketPath {
			token = c.Query("token")
		}
		if token != "" {
			if subject, err := tokens.Verify(token); err == nil {
				c.Set("auth_subject", subject)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
