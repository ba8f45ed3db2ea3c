package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/push"
	"github.com/charlesng35/ticketdesk/pkg/logger"
)

// Notifier delivers a push payload to one user.
type Notifier interface {
	Notify(ctx context.Context, userID string, payload push.Payload) error
}

// SubscriptionWatcher is implemented by notifiers that cache descriptors and follow
// push_subscriptions changes to stay coherent.
type SubscriptionWatcher interface {
	WatchSubscriptions(feed changefeed.Subscriber) error
	StopWatching()
}

// PushDispatcher turns change feed events into server initiated pushes so users without an
// open connection still hear about their tickets.
type PushDispatcher struct {
	feed     changefeed.Subscriber
	notifier Notifier
	db       TicketLookup
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	handles []*changefeed.Handle
}

// TicketLookup loads a ticket without visibility checks.
type TicketLookup interface {
	Lookup(ctx context.Context, id uint64) (*models.Ticket, error)
}

// Lookup implements TicketLookup.
func (s *TicketService) Lookup(ctx context.Context, id uint64) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ensureContext(ctx)).First(&ticket, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ticket, nil
}

// NewPushDispatcher builds a dispatcher.
func NewPushDispatcher(feed changefeed.Subscriber, notifier Notifier, tickets TicketLookup) *PushDispatcher {
	return &PushDispatcher{
		feed:     feed,
		notifier: notifier,
		db:       tickets,
		timeout:  20 * time.Second,
		log:      logger.WithModule("push.dispatcher"),
	}
}

// Start subscribes to ticket and message events, and to subscription changes when the
// notifier caches descriptors.
func (d *PushDispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) > 0 {
		return nil
	}

	subscriptions := []struct {
		filter changefeed.Filter
		fn     func(context.Context, changefeed.Event)
	}{
		{changefeed.Filter{Table: desk.TicketsTable, Operation: changefeed.OpInsert}, d.ticketCreated},
		{changefeed.Filter{Table: desk.TicketsTable, Operation: changefeed.OpUpdate, Changed: "status"}, d.statusChanged},
		{changefeed.Filter{Table: desk.MessagesTable, Operation: changefeed.OpInsert}, d.messagePosted},
	}

	var err error
	for _, sub := range subscriptions {
		fn := sub.fn
		handle, subErr := d.feed.Subscribe(sub.filter, func(delivery changefeed.Delivery) {
			if delivery.Kind != changefeed.DeliveryEvent {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			fn(ctx, delivery.Event)
		})
		if subErr != nil {
			err = multierr.Append(err, subErr)
			continue
		}
		d.handles = append(d.handles, handle)
	}
	if err != nil {
		d.stopLocked()
		return fmt.Errorf("push dispatcher: subscribe: %w", err)
	}
	if watcher, ok := d.notifier.(SubscriptionWatcher); ok {
		if err := watcher.WatchSubscriptions(d.feed); err != nil {
			d.stopLocked()
			return fmt.Errorf("push dispatcher: %w", err)
		}
	}
	return nil
}

// Stop cancels every subscription.
func (d *PushDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *PushDispatcher) stopLocked() {
	for _, h := range d.handles {
		h.Cancel()
	}
	d.handles = nil
	if watcher, ok := d.notifier.(SubscriptionWatcher); ok {
		watcher.StopWatching()
	}
}

func (d *PushDispatcher) ticketCreated(ctx context.Context, evt changefeed.Event) {
	var ticket models.Ticket
	if err := evt.DecodeAfter(&ticket); err != nil {
		d.log.Warn("undecodable ticket event", zap.Error(err))
		return
	}
	if ticket.AssignedResolver == nil {
		return
	}
	d.send(ctx, *ticket.AssignedResolver, push.Payload{
		Title: "New ticket",
		Body:  desk.NewTicketText(ticket.ID, ticket.Title),
		URL:   ticketURL(ticket.ID),
	})
}

func (d *PushDispatcher) statusChanged(ctx context.Context, evt changefeed.Event) {
	var ticket models.Ticket
	if err := evt.DecodeAfter(&ticket); err != nil {
		d.log.Warn("undecodable ticket event", zap.Error(err))
		return
	}
	d.send(ctx, ticket.Creator, push.Payload{
		Title: "Ticket updated",
		Body:  desk.StatusText(ticket.ID, ticket.Status),
		URL:   ticketURL(ticket.ID),
	})
}

func (d *PushDispatcher) messagePosted(ctx context.Context, evt changefeed.Event) {
	var message models.TicketMessage
	if err := evt.DecodeAfter(&message); err != nil {
		d.log.Warn("undecodable message event", zap.Error(err))
		return
	}
	ticket, err := d.db.Lookup(ctx, message.TicketID)
	if err != nil {
		d.log.Warn("failed to load ticket for message push", zap.Uint64("ticket_id", message.TicketID), zap.Error(err))
		return
	}

	recipient := ticket.Creator
	if message.Sender == ticket.Creator {
		recipient = derefString(ticket.AssignedResolver)
	}
	if recipient == "" || recipient == message.Sender {
		return
	}
	d.send(ctx, recipient, push.Payload{
		Title: "New message",
		Body:  desk.MessageText(ticket.ID, message.Body),
		URL:   ticketURL(ticket.ID),
	})
}

func (d *PushDispatcher) send(ctx context.Context, userID string, payload push.Payload) {
	if err := d.notifier.Notify(ctx, userID, payload); err != nil {
		d.log.Warn("push delivery failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func ticketURL(id uint64) string {
	return fmt.Sprintf("/tickets/%d", id)
}
