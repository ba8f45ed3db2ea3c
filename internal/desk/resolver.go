package desk

import (
	"context"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

// ResolverView sees every ticket and acknowledges tickets it opens.
type ResolverView struct {
	sess   session.Session
	source TicketSource
}

func (v *ResolverView) Session() session.Session { return v.sess }

func (v *ResolverView) Tickets(ctx context.Context, opts ListOptions) ([]models.Ticket, error) {
	status, err := parseStatusOption(opts.Status)
	if err != nil {
		return nil, err
	}
	query := Query{Status: status, Limit: opts.Limit}
	if opts.AssignedToMe {
		query.AssignedResolver = v.sess.UserID
	}
	return v.source.List(ctx, query)
}

// Open acknowledges a submitted ticket the first time a resolver views it.
func (v *ResolverView) Open(ctx context.Context, id uint64) (*models.Ticket, error) {
	return v.source.Acknowledge(ctx, v.sess, id)
}

func (v *ResolverView) DashboardFilter() changefeed.Filter {
	return changefeed.Filter{Table: TicketsTable, Operation: changefeed.OpAny}
}

func (v *ResolverView) NotificationFilter() changefeed.Filter {
	return changefeed.Equals(TicketsTable, changefeed.OpInsert, "assigned_resolver", v.sess.UserID)
}

func (v *ResolverView) Describe(evt changefeed.Event) (string, bool) {
	if evt.Table != TicketsTable || evt.Operation != changefeed.OpInsert {
		return "", false
	}
	ticket, ok := decodeTicket(evt)
	if !ok {
		return "", false
	}
	return NewTicketText(ticket.ID, ticket.Title), true
}

// AuthorizeFilter lets resolvers observe tickets and messages.
func (v *ResolverView) AuthorizeFilter(_ context.Context, filter changefeed.Filter) error {
	switch filter.Table {
	case TicketsTable, MessagesTable:
		return nil
	default:
		return apperrors.ErrForbidden.WithMessage("table is not observable")
	}
}
