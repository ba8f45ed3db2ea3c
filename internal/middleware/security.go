package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// APIContentSecurityPolicy forbids every resource: API responses are JSON only.
	APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	// PermissionsPolicy keeps geolocation for ticket locations and disables the rest.
	PermissionsPolicy = "geolocation=(self), microphone=(), camera=()"
)

// SecurityHeaders applies hardening headers to every response. Ticket and chat payloads under
// /api are private to the caller and never cached.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", APIContentSecurityPolicy)
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", PermissionsPolicy)
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}
		c.Next()
	}
}
