package desk

import (
	"context"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

// RequesterView only sees tickets the session created.
type RequesterView struct {
	sess   session.Session
	source TicketSource
}

func (v *RequesterView) Session() session.Session { return v.sess }

func (v *RequesterView) Tickets(ctx context.Context, opts ListOptions) ([]models.Ticket, error) {
	status, err := parseStatusOption(opts.Status)
	if err != nil {
		return nil, err
	}
	return v.source.List(ctx, Query{Status: status, Creator: v.sess.UserID, Limit: opts.Limit})
}

func (v *RequesterView) Open(ctx context.Context, id uint64) (*models.Ticket, error) {
	return v.source.Get(ctx, v.sess, id)
}

func (v *RequesterView) DashboardFilter() changefeed.Filter {
	return changefeed.Equals(TicketsTable, changefeed.OpAny, "creator", v.sess.UserID)
}

func (v *RequesterView) NotificationFilter() changefeed.Filter {
	filter := changefeed.Equals(TicketsTable, changefeed.OpUpdate, "creator", v.sess.UserID)
	filter.Changed = "status"
	return filter
}

func (v *RequesterView) Describe(evt changefeed.Event) (string, bool) {
	if evt.Table != TicketsTable || evt.Operation != changefeed.OpUpdate || !evt.Changed("status") {
		return "", false
	}
	ticket, ok := decodeTicket(evt)
	if !ok {
		return "", false
	}
	return StatusText(ticket.ID, ticket.Status), true
}

// AuthorizeFilter allows ticket filters bound to the session identity and message filters
// bound to a ticket the session created.
func (v *RequesterView) AuthorizeFilter(ctx context.Context, filter changefeed.Filter) error {
	switch filter.Table {
	case TicketsTable:
		if filter.Column == "creator" && filter.Value == v.sess.UserID {
			return nil
		}
		return apperrors.ErrForbidden.WithMessage("requesters may only observe their own tickets")
	case MessagesTable:
		if filter.Column != "ticket_id" {
			return apperrors.ErrForbidden.WithMessage("message filters must name a ticket")
		}
		id, ok := changefeed.Uint(filter.Value)
		if !ok {
			return apperrors.NewValidation("ticket_id must be numeric")
		}
		if _, err := v.source.Get(ctx, v.sess, id); err != nil {
			return err
		}
		return nil
	default:
		return apperrors.ErrForbidden.WithMessage("table is not observable")
	}
}
