// Package desk selects the role-specific ticket dashboard once per session.
package desk

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

const (
	TicketsTable       = "tickets"
	MessagesTable      = "messages"
	SubscriptionsTable = "push_subscriptions"

	titlePreviewLength = 20
)

// ObservedTables lists the tables whose row changes feed the change feed. Subscriptions stay
// server side; AuthorizeFilter never admits them.
func ObservedTables() []string {
	return []string{TicketsTable, MessagesTable, SubscriptionsTable}
}

// Query narrows a ticket listing. Empty fields do not filter.
type Query struct {
	Status           workflow.Status
	Creator          string
	AssignedResolver string
	Limit            int
}

// TicketSource is the record store surface the views read from.
type TicketSource interface {
	List(ctx context.Context, query Query) ([]models.Ticket, error)
	Get(ctx context.Context, sess session.Session, id uint64) (*models.Ticket, error)
	Acknowledge(ctx context.Context, sess session.Session, id uint64) (*models.Ticket, error)
}

// ListOptions are the dashboard controls.
type ListOptions struct {
	// Status is a status token or "all".
	Status string
	// AssignedToMe restricts a resolver dashboard to its own tickets.
	AssignedToMe bool
	// Limit caps the listing; zero uses the store default.
	Limit int
}

// View is the role-specific dashboard of one session.
type View interface {
	Session() session.Session
	// Tickets lists the tickets visible to the session, newest first.
	Tickets(ctx context.Context, opts ListOptions) ([]models.Ticket, error)
	// Open loads a ticket detail view.
	Open(ctx context.Context, id uint64) (*models.Ticket, error)
	// DashboardFilter matches ticket events that affect the dashboard listing.
	DashboardFilter() changefeed.Filter
	// NotificationFilter matches events that become notifications for this session.
	NotificationFilter() changefeed.Filter
	// Describe renders a notification text for an event matched by NotificationFilter.
	Describe(evt changefeed.Event) (string, bool)
	// AuthorizeFilter rejects change feed filters this session may not observe.
	AuthorizeFilter(ctx context.Context, filter changefeed.Filter) error
}

// For selects the view for sess.
func For(sess session.Session, source TicketSource) (View, error) {
	if source == nil {
		return nil, fmt.Errorf("desk: ticket source is required")
	}
	switch sess.Role {
	case workflow.RoleResolver:
		return &ResolverView{sess: sess, source: source}, nil
	case workflow.RoleRequester:
		return &RequesterView{sess: sess, source: source}, nil
	default:
		return nil, apperrors.ErrUnauthorized.WithMessage("session has no role")
	}
}

// NewTicketText is the notification shown to a resolver when a ticket is assigned on creation.
func NewTicketText(id uint64, title string) string {
	preview := title
	if utf8.RuneCountInString(preview) > titlePreviewLength {
		preview = string([]rune(preview)[:titlePreviewLength])
	}
	return fmt.Sprintf("New ticket #%d (%s...)", id, preview)
}

// StatusText is the notification shown to a requester when a ticket changes status.
func StatusText(id uint64, status workflow.Status) string {
	return fmt.Sprintf("Ticket #%d updated to: %s", id, strings.ToUpper(string(status)))
}

// MessageText is the push body for a chat message.
func MessageText(id uint64, body string) string {
	preview := body
	if utf8.RuneCountInString(preview) > 80 {
		preview = string([]rune(preview)[:80]) + "..."
	}
	return fmt.Sprintf("Ticket #%d: %s", id, preview)
}

func parseStatusOption(value string) (workflow.Status, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "all") {
		return "", nil
	}
	status, err := workflow.ParseStatus(value)
	if err != nil {
		return "", apperrors.NewValidation(err.Error())
	}
	return status, nil
}

func decodeTicket(evt changefeed.Event) (models.Ticket, bool) {
	var ticket models.Ticket
	if err := evt.DecodeAfter(&ticket); err != nil {
		return models.Ticket{}, false
	}
	return ticket, true
}
