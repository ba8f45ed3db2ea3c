package changefeed

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/metrics"
)

var (
	// ErrClosed is returned when subscribing to a closed feed.
	ErrClosed = errors.New("changefeed: feed closed")

	errNilCallback = errors.New("changefeed: callback is required")
)

// Handle owns one subscription. Deliveries are queued without bound and handed to the
// callback from a dedicated goroutine in emission order.
type Handle struct {
	id     string
	filter Filter
	cb     Callback
	feed   *Feed

	mu     sync.Mutex
	queue  []Delivery
	wake   chan struct{}
	done   chan struct{}
	hooks  []func()
	closed atomic.Bool

	// deliverMu is held while the callback runs so Cancel can wait out an in-flight delivery.
	deliverMu sync.Mutex
	once      sync.Once
}

func newHandle(feed *Feed, id string, filter Filter, cb Callback) *Handle {
	return &Handle{
		id:     id,
		filter: filter,
		cb:     cb,
		feed:   feed,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the subscription id.
func (h *Handle) ID() string { return h.id }

// Filter returns the normalised predicate.
func (h *Handle) Filter() Filter { return h.filter }

// Done is closed once the handle is cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// OnCancel registers fn to run once when the handle is cancelled. It runs immediately when
// the handle is already cancelled.
func (h *Handle) OnCancel(fn func()) {
	h.mu.Lock()
	if !h.closed.Load() {
		h.hooks = append(h.hooks, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn()
}

// Cancel releases the subscription. Once Cancel returns the callback is never invoked again.
// Cancel waits for an in-flight callback, so a callback must not cancel its own handle
// synchronously.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed.Store(true)
		h.queue = nil
		hooks := h.hooks
		h.hooks = nil
		h.mu.Unlock()

		close(h.done)
		h.feed.remove(h)
		metrics.FeedSubscriptions.Dec()

		// Wait out a callback that is already running.
		h.deliverMu.Lock()
		h.deliverMu.Unlock() //nolint:staticcheck

		for _, fn := range hooks {
			fn()
		}
	})
}

func (h *Handle) enqueue(d Delivery) {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return
	}
	h.queue = append(h.queue, d)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) run() {
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		for {
			h.mu.Lock()
			if len(h.queue) == 0 {
				h.mu.Unlock()
				break
			}
			next := h.queue[0]
			h.queue[0] = Delivery{}
			h.queue = h.queue[1:]
			h.mu.Unlock()

			if !h.deliver(next) {
				return
			}
		}
	}
}

func (h *Handle) deliver(d Delivery) (ok bool) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	if h.closed.Load() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			h.feed.log.Error("change feed callback panicked",
				zap.String("subscription", h.id),
				zap.Any("panic", r))
			ok = true
		}
	}()

	metrics.FeedDeliveries.Inc()
	h.cb(d)
	return true
}
