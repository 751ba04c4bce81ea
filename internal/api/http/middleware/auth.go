package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiKeyHeader = "X-API-Key"
	bearerPrefix = "Bearer "
)

// APIKeyAuth guards the management API. keys is a comma-separated list so an
// old and a new key can both be accepted while clients rotate. With no key
// configured every request is refused.
func APIKeyAuth(keys string) gin.HandlerFunc {
	accepted := parseKeys(keys)
	return func(c *gin.Context) {
		if len(accepted) == 0 {
			slog.Warn("Management API key not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "management API is not configured",
			})
			return
		}

		provided, ok := credential(c.Request)
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="mikrobill"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if !matchAny(accepted, provided) {
			slog.Warn("Rejected management API key",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}

func parseKeys(keys string) [][]byte {
	var out [][]byte
	for _, k := range strings.Split(keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, []byte(k))
		}
	}
	return out
}

// credential reads the key from X-API-Key, falling back to a bearer token.
func credential(r *http.Request) (string, bool) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, true
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		if key := strings.TrimSpace(auth[len(bearerPrefix):]); key != "" {
			return key, true
		}
	}
	return "", false
}

// matchAny compares against every key so timing does not reveal which slot
// matched.
func matchAny(accepted [][]byte, provided string) bool {
	p := []byte(provided)
	found := 0
	for _, k := range accepted {
		found |= subtle.ConstantTimeCompare(p, k)
	}
	return found == 1
}
