package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/ticketdesk/internal/auth"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	"github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

const (
	CtxClaimsKey  = "authClaims"
	CtxUserIDKey  = "userID"
	CtxSessionKey = "session"

	tokenQueryParam = "token"
)

// Auth enforces JWT authentication and attaches the caller's session to the request. Browsers
// cannot set headers on websocket upgrades, so the token query parameter is accepted as well.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		sess, claims, err := jwt.Authenticate(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, sess.UserID)
		c.Set(CtxSessionKey, sess)
		c.Request = c.Request.WithContext(session.WithContext(c.Request.Context(), sess))

		c.Next()
	}
}

// RequireRole aborts with 403 unless the session holds role.
func RequireRole(role workflow.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := SessionFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if sess.Role != role {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// SessionFrom returns the session attached by Auth.
func SessionFrom(c *gin.Context) (session.Session, bool) {
	value, ok := c.Get(CtxSessionKey)
	if !ok {
		return session.Session{}, false
	}
	sess, ok := value.(session.Session)
	return sess, ok && sess.Valid()
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		token := strings.TrimSpace(authz[7:])
		return token, token != ""
	}
	if token := strings.TrimSpace(c.Query(tokenQueryParam)); token != "" {
		return token, true
	}
	return "", false
}
