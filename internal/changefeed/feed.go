package changefeed

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/logger"
	"github.com/charlesng35/ticketdesk/pkg/metrics"
)

// DeliveryKind tags what a subscriber receives.
type DeliveryKind uint8

const (
	// DeliveryEvent carries a matching Event.
	DeliveryEvent DeliveryKind = iota + 1
	// DeliveryInterrupted signals that the feed lost its link to the record store. Subscribers
	// must treat their state as stale.
	DeliveryInterrupted
	// DeliveryResumed signals that forwarding resumed. Events missed in between are not replayed;
	// subscribers re-fetch authoritative state.
	DeliveryResumed
)

func (k DeliveryKind) String() string {
	switch k {
	case DeliveryEvent:
		return "change"
	case DeliveryInterrupted:
		return "feed.interrupted"
	case DeliveryResumed:
		return "feed.resumed"
	default:
		return "unknown"
	}
}

// Delivery is one item handed to a subscription callback.
type Delivery struct {
	Kind  DeliveryKind
	Event Event
}

// Callback receives deliveries for one subscription, one at a time and in emission order.
type Callback func(Delivery)

// Publisher accepts events observed on the record store.
type Publisher interface {
	Publish(evt Event)
}

// Subscriber registers filtered callbacks.
type Subscriber interface {
	Subscribe(filter Filter, cb Callback) (*Handle, error)
}

// Feed fans events out to subscriptions whose filter matches.
type Feed struct {
	mu          sync.RWMutex
	subs        map[string]*Handle
	interrupted map[string]error
	closed      bool
	log         *zap.Logger
}

// New constructs an empty feed.
func New() *Feed {
	return &Feed{
		subs:        make(map[string]*Handle),
		interrupted: make(map[string]error),
		log:         logger.WithModule("changefeed"),
	}
}

// Subscribe registers cb for events matching filter. The returned handle must be cancelled
// when its owner goes away.
func (f *Feed) Subscribe(filter Filter, cb Callback) (*Handle, error) {
	return f.SubscribeWithID(uuid.NewString(), filter, cb)
}

// SubscribeWithID registers a subscription under a caller chosen id, replacing any
// existing subscription with the same id.
func (f *Feed) SubscribeWithID(id string, filter Filter, cb Callback) (*Handle, error) {
	normalized, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errNilCallback
	}

	h := newHandle(f, id, normalized, cb)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	previous := f.subs[id]
	f.subs[id] = h
	stale := len(f.interrupted) > 0
	f.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}

	metrics.FeedSubscriptions.Inc()
	go h.run()

	if stale {
		h.enqueue(Delivery{Kind: DeliveryInterrupted})
	}
	return h, nil
}

// Publish delivers evt to every matching subscription.
func (f *Feed) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CommittedAt.IsZero() {
		evt.CommittedAt = time.Now().UTC()
	}

	metrics.FeedEvents.WithLabelValues(evt.Table, string(evt.Operation)).Inc()

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, h := range f.subs {
		if h.filter.Matches(evt) {
			h.enqueue(Delivery{Kind: DeliveryEvent, Event: evt})
		}
	}
}

// Deliver hands evt to the subscription id when its filter matches. It reports whether
// the event was queued.
func (f *Feed) Deliver(id string, evt Event) bool {
	f.mu.RLock()
	h := f.subs[id]
	f.mu.RUnlock()

	if h == nil || !h.filter.Matches(evt) {
		return false
	}
	h.enqueue(Delivery{Kind: DeliveryEvent, Event: evt})
	return true
}

// Interrupt records that source lost its link. Subscribers are signalled on the first
// interrupted source only.
func (f *Feed) Interrupt(source string, cause error) {
	f.mu.Lock()
	_, already := f.interrupted[source]
	first := len(f.interrupted) == 0
	f.interrupted[source] = cause
	targets := f.snapshotLocked()
	f.mu.Unlock()

	if already {
		return
	}

	metrics.FeedInterruptions.WithLabelValues(source).Inc()
	f.log.Warn("change feed interrupted", zap.String("source", source), zap.Error(cause))

	if !first {
		return
	}
	for _, h := range targets {
		h.enqueue(Delivery{Kind: DeliveryInterrupted})
	}
}

// Resume clears the interruption for source. Subscribers are signalled once every source
// is healthy again.
func (f *Feed) Resume(source string) {
	f.mu.Lock()
	if _, ok := f.interrupted[source]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.interrupted, source)
	healthy := len(f.interrupted) == 0
	targets := f.snapshotLocked()
	f.mu.Unlock()

	f.log.Info("change feed resumed", zap.String("source", source))

	if !healthy {
		return
	}
	for _, h := range targets {
		h.enqueue(Delivery{Kind: DeliveryResumed})
	}
}

// Interrupted reports whether any source is currently disconnected.
func (f *Feed) Interrupted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.interrupted) > 0
}

// InterruptedSources returns the disconnected sources in sorted order.
func (f *Feed) InterruptedSources() []string {
	f.mu.RLock()
	sources := make([]string, 0, len(f.interrupted))
	for source := range f.interrupted {
		sources = append(sources, source)
	}
	f.mu.RUnlock()
	sort.Strings(sources)
	return sources
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Subscriptions returns the ids of live subscriptions in sorted order.
func (f *Feed) Subscriptions() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close cancels every subscription and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	targets := f.snapshotLocked()
	f.mu.Unlock()

	for _, h := range targets {
		h.Cancel()
	}
}

func (f *Feed) snapshotLocked() []*Handle {
	out := make([]*Handle, 0, len(f.subs))
	for _, h := range f.subs {
		out = append(out, h)
	}
	return out
}

func (f *Feed) remove(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.subs[h.id]; ok && current == h {
		delete(f.subs, h.id)
	}
}
