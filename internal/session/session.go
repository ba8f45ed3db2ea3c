// Package session holds the explicit identity every ticket desk component is constructed with.
package session

import (
	"context"
	"strings"

	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

// Session is the authenticated identity of one user for the lifetime of a client or request.
type Session struct {
	UserID string
	Email  string
	Role   workflow.Role
}

// New validates and builds a session.
func New(userID, email string, role workflow.Role) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, apperrors.ErrUnauthorized.WithMessage("session requires a user id")
	}
	if !role.Valid() {
		return Session{}, apperrors.ErrUnauthorized.WithMessage("session requires a valid role")
	}
	return Session{UserID: userID, Email: strings.TrimSpace(email), Role: role}, nil
}

// Actor returns the workflow actor for this session.
func (s Session) Actor() workflow.Actor {
	return workflow.Actor{ID: s.UserID, Role: s.Role}
}

// IsResolver reports whether the session may drive ticket transitions.
func (s Session) IsResolver() bool {
	return s.Role == workflow.RoleResolver
}

// Valid reports whether the session carries an identity and a role.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Role.Valid()
}

type contextKey struct{}

// WithContext stores s on ctx.
func WithContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored on ctx.
func FromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok && s.Valid()
}
