// Package notifications keeps the per-session list of role-specific notifications derived from
// change feed events.
package notifications

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/pkg/logger"
)

const defaultLimit = 200

// Notification is one rendered entry. It is never persisted.
type Notification struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Read       bool      `json:"read"`
	TicketID   uint64    `json:"ticket_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Snapshot is a copy of the aggregator state, newest notification first.
type Snapshot struct {
	Items  []Notification `json:"items"`
	Unread int            `json:"unread"`
	// Stale is set while the change feed is interrupted.
	Stale bool `json:"stale"`
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithLimit caps the number of retained notifications. Older entries are dropped first.
func WithLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithClock overrides the clock stamping notifications.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.timeNow = now
		}
	}
}

// Aggregator turns the events selected by a view's notification filter into an ordered list
// with an unread counter. Every matching event produces one entry; repeated updates of a
// ticket are not collapsed.
type Aggregator struct {
	view    desk.View
	limit   int
	timeNow func() time.Time
	log     *zap.Logger

	mu        sync.RWMutex
	handle    *changefeed.Handle
	items     []Notification
	unread    int
	stale     bool
	closed    bool
	listeners map[chan Snapshot]struct{}
}

// New subscribes an aggregator for view on feed. Close releases the subscription.
func New(view desk.View, feed changefeed.Subscriber, opts ...Option) (*Aggregator, error) {
	if view == nil {
		return nil, errors.New("notifications: view is required")
	}
	if feed == nil {
		return nil, errors.New("notifications: change feed is required")
	}

	agg := &Aggregator{
		view:      view,
		limit:     defaultLimit,
		timeNow:   time.Now,
		log:       logger.WithModule("notifications"),
		listeners: make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(agg)
	}

	handle, err := feed.Subscribe(view.NotificationFilter(), agg.receive)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	agg.handle = handle
	agg.mu.Unlock()
	return agg, nil
}

func (a *Aggregator) receive(delivery changefeed.Delivery) {
	switch delivery.Kind {
	case changefeed.DeliveryInterrupted:
		a.setStale(true)
	case changefeed.DeliveryResumed:
		a.setStale(false)
	case changefeed.DeliveryEvent:
		text, ok := a.view.Describe(delivery.Event)
		if !ok {
			a.log.Debug("ignoring event without notification text",
				zap.String("table", delivery.Event.Table),
				zap.String("operation", string(delivery.Event.Operation)))
			return
		}
		a.prepend(Notification{
			ID:         delivery.Event.ID,
			Text:       text,
			TicketID:   ticketID(delivery.Event),
			ReceivedAt: a.timeNow().UTC(),
		})
	}
}

func (a *Aggregator) prepend(n Notification) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.items = append([]Notification{n}, a.items...)
	a.unread++
	if len(a.items) > a.limit {
		for _, dropped := range a.items[a.limit:] {
			if !dropped.Read {
				a.unread--
			}
		}
		a.items = a.items[:a.limit]
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(snap)
}

func (a *Aggregator) setStale(stale bool) {
	a.mu.Lock()
	if a.closed || a.stale == stale {
		a.mu.Unlock()
		return
	}
	a.stale = stale
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(snap)
}

// MarkAllRead resets the unread counter. The list itself is kept for the session.
func (a *Aggregator) MarkAllRead() {
	a.mu.Lock()
	if a.closed || a.unread == 0 {
		a.mu.Unlock()
		return
	}
	for i := range a.items {
		a.items[i].Read = true
	}
	a.unread = 0
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(snap)
}

// Unread returns the unread counter.
func (a *Aggregator) Unread() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.unread
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Watch returns a channel receiving the latest snapshot after every change. Slow readers only
// see the most recent state. The returned func stops the watch.
func (a *Aggregator) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	a.listeners[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if _, ok := a.listeners[ch]; ok {
				delete(a.listeners, ch)
				close(ch)
			}
		})
	}
}

// Close cancels the change feed subscription and stops every watcher.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	handle := a.handle
	for ch := range a.listeners {
		delete(a.listeners, ch)
		close(ch)
	}
	a.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
}

func (a *Aggregator) snapshotLocked() Snapshot {
	items := make([]Notification, len(a.items))
	copy(items, a.items)
	return Snapshot{Items: items, Unread: a.unread, Stale: a.stale}
}

func (a *Aggregator) broadcast(snap Snapshot) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for ch := range a.listeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func ticketID(evt changefeed.Event) uint64 {
	var ref struct {
		ID uint64 `json:"id"`
	}
	if err := changefeed.DecodeRow(evt.Row(), &ref); err != nil {
		return 0
	}
	return ref.ID
}
