// Package security provides response hardening and CORS middleware.
package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HeadersMiddleware adds security headers to all responses
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")

		// JSON API only: nothing should ever be rendered or framed.
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")

		// Responses carry session tokens and client secrets.
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

// CORSConfig builds the CORS policy for the public API. "*" allows any
// origin without credentials; explicit origins are allowed with credentials.
func CORSConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	var origins []string
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// CORSMiddleware handles CORS for API endpoints
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(CORSConfig(allowedOrigins))
}
