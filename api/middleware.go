package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerMiddleware() {
	if s == nil || s.router == nil {
		return
	}
	s.router.Use(gin.Logger(), gin.Recovery(), corsMiddleware())
}

// corsMiddleware lets browser dashboards call the API. Allowed origins
// come from NUCLEATION_CORS_ORIGINS as a comma-separated list ("*"
// allows any); when unset, no CORS headers are emitted at all. The API
// only serves GET and POST, so preflights advertise exactly those.
func corsMiddleware() gin.HandlerFunc {
	allowAll, origins := parseOrigins(os.Getenv("NUCLEATION_CORS_ORIGINS"))
	if !allowAll && len(origins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin == "" {
			c.Next()
			return
		}

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if allowAll || origins[origin] {
			c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func parseOrigins(raw string) (allowAll bool, origins map[string]bool) {
	origins = make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		switch origin := strings.TrimSpace(part); origin {
		case "":
		case "*":
			return true, nil
		default:
			origins[origin] = true
		}
	}
	return false, origins
}

// apiKeyAuthMiddleware rejects requests whose X-API-Key header does not
// match the configured key. Preflight OPTIONS requests pass through so
// CORS negotiation works without credentials.
func apiKeyAuthMiddleware(expected string) gin.HandlerFunc {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if strings.TrimSpace(c.GetHeader("X-API-Key")) != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
