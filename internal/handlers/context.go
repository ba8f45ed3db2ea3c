package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/middleware"
	"github.com/charlesng35/ticketdesk/internal/session"
	appErrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentSession returns the authenticated session or writes a 401 and returns false.
func currentSession(c *gin.Context) (session.Session, bool) {
	sess, ok := middleware.SessionFrom(c)
	if !ok || !sess.Valid() {
		response.Error(c, appErrors.ErrUnauthorized)
		return session.Session{}, false
	}
	return sess, true
}

// ticketIDParam parses the :id path parameter. Malformed ids surface as 404.
func ticketIDParam(c *gin.Context) (uint64, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		response.Error(c, appErrors.ErrNotFound.WithMessage("ticket not found"))
		return 0, false
	}
	return id, true
}
