// Package security audits the deployment settings that protect tokens, push identity and
// ticket routing.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/app"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/workflow"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const maxAccessTokenTTL = 24 * time.Hour

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

// AuditService evaluates the configuration a server is about to run with.
type AuditService struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. A nil db degrades the routing check to a warning.
func NewAuditService(db *gorm.DB, cfg *app.Config) *AuditService {
	return &AuditService{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used in results.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := s.cfg
	if cfg == nil {
		cfg = &app.Config{}
	}

	checks := []Check{
		checkJWTSecret(cfg),
		checkAccessTokenTTL(cfg),
		checkPushIdentity(cfg),
		s.checkDefaultResolver(ctx, cfg),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func checkJWTSecret(cfg *app.Config) Check {
	length := len(strings.TrimSpace(cfg.Auth.JWT.Secret))

	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Set TICKETDESK_AUTH_JWT_SECRET to the secret shared with the identity provider.",
		}
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of TICKETDESK_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func checkAccessTokenTTL(cfg *app.Config) Check {
	ttl := cfg.Auth.JWTServiceConfig().AccessTokenTTL
	if ttl > maxAccessTokenTTL {
		return Check{
			ID:          "access_token_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds recommended maximum (%s).", ttl, maxAccessTokenTTL),
			Remediation: "Shorten auth.jwt.access_token_ttl; long lived tokens keep a role after it is revoked upstream.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}
	return Check{
		ID:      "access_token_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Access token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func checkPushIdentity(cfg *app.Config) Check {
	if !cfg.Push.Enabled {
		return Check{ID: "push_identity", Status: StatusPass, Message: "Web push is disabled."}
	}

	sender := cfg.Push.SenderConfig()
	if sender.PublicKey == "" || sender.PrivateKey == "" {
		return Check{
			ID:          "push_identity",
			Status:      StatusFail,
			Message:     "Web push is enabled without a VAPID key pair.",
			Remediation: "Run `ticketdesk vapid-keys` or let the server generate and store a pair on start.",
		}
	}

	switch {
	case sender.Subscriber == "":
		return Check{
			ID:          "push_identity",
			Status:      StatusWarn,
			Message:     "No VAPID subscriber contact is configured.",
			Remediation: "Set push.subscriber to a mailto: or https: contact; push services may throttle anonymous senders.",
		}
	case !strings.HasPrefix(sender.Subscriber, "mailto:") && !strings.HasPrefix(sender.Subscriber, "https://"):
		return Check{
			ID:          "push_identity",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("VAPID subscriber %q is neither a mailto: nor an https: URI.", sender.Subscriber),
			Remediation: "Prefix push.subscriber with mailto: or use an https contact page.",
		}
	}

	return Check{
		ID:      "push_identity",
		Status:  StatusPass,
		Message: "VAPID identity configured.",
		Details: map[string]any{"subscriber": sender.Subscriber},
	}
}

func (s *AuditService) checkDefaultResolver(ctx context.Context, cfg *app.Config) Check {
	resolverID := strings.TrimSpace(cfg.Workflow.DefaultResolver)
	if resolverID == "" {
		return Check{
			ID:          "default_resolver",
			Status:      StatusWarn,
			Message:     "No default resolver; tickets created without an assignee stay unassigned.",
			Remediation: "Set workflow.default_resolver to the profile id of a resolver.",
		}
	}
	if s.db == nil {
		return Check{
			ID:          "default_resolver",
			Status:      StatusWarn,
			Message:     "Database unavailable; unable to confirm the default resolver.",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	var profile models.Profile
	err := s.db.WithContext(ctx).Where("id = ?", resolverID).Take(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Check{
			ID:          "default_resolver",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Default resolver %q has not signed in yet.", resolverID),
			Remediation: "Confirm the id; the profile appears after the resolver's first request.",
		}
	case err != nil:
		return Check{
			ID:          "default_resolver",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not verify the default resolver: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	case profile.Role != workflow.RoleResolver:
		return Check{
			ID:          "default_resolver",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Default resolver %q has role %s.", resolverID, profile.Role),
			Remediation: "Point workflow.default_resolver at a resolver profile.",
		}
	}

	return Check{
		ID:      "default_resolver",
		Status:  StatusPass,
		Message: "Default resolver is a resolver profile.",
		Details: map[string]any{"email": profile.Email},
	}
}
