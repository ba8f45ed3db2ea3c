// Package chat keeps the ordered message log of one open ticket in sync with the change feed.
package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/logger"
)

// Store loads and appends ticket messages.
type Store interface {
	History(ctx context.Context, sess session.Session, ticketID uint64) ([]models.TicketMessage, error)
	Post(ctx context.Context, sess session.Session, ticketID uint64, body string) (*models.TicketMessage, error)
}

// Option customises a Log.
type Option func(*Log)

// WithErrorHandler receives failures of background sends and re-fetches.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Log) {
		l.onError = fn
	}
}

// Log is the message list of one ticket. Messages are ordered by server timestamp, ties broken
// by id, and never change once received. The sender's own messages arrive through the change
// feed like everyone else's.
type Log struct {
	sess     session.Session
	ticketID uint64
	store    Store
	onError  func(error)
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	handle   *changefeed.Handle
	messages []models.TicketMessage
	seen     map[uint64]struct{}
	draft    string
	stale    bool
	closed   bool
	updates  chan struct{}
}

// Open subscribes to new messages of ticketID and then loads its history, so nothing posted
// while the history is loading is missed.
func Open(ctx context.Context, sess session.Session, ticketID uint64, store Store, feed changefeed.Subscriber, opts ...Option) (*Log, error) {
	if store == nil || feed == nil {
		return nil, errors.New("chat: store and change feed are required")
	}
	if !sess.Valid() {
		return nil, apperrors.ErrUnauthorized
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &Log{
		sess:     sess,
		ticketID: ticketID,
		store:    store,
		log:      logger.WithModule("chat"),
		ctx:      runCtx,
		cancel:   cancel,
		seen:     make(map[uint64]struct{}),
		updates:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}

	filter := changefeed.Equals(desk.MessagesTable, changefeed.OpInsert, "ticket_id", ticketID)
	handle, err := feed.Subscribe(filter, l.receive)
	if err != nil {
		cancel()
		return nil, err
	}
	l.mu.Lock()
	l.handle = handle
	l.mu.Unlock()

	if err := l.load(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// TicketID returns the ticket the log belongs to.
func (l *Log) TicketID() uint64 {
	return l.ticketID
}

// Messages returns a copy of the log.
func (l *Log) Messages() []models.TicketMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.TicketMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Stale reports whether the change feed is interrupted and the log may be missing messages.
func (l *Log) Stale() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stale
}

// Updates signals after every change to the log. Signals coalesce.
func (l *Log) Updates() <-chan struct{} {
	return l.updates
}

// SetDraft stores the unsent input.
func (l *Log) SetDraft(text string) {
	l.mu.Lock()
	l.draft = text
	l.mu.Unlock()
}

// Draft returns the unsent input.
func (l *Log) Draft() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.draft
}

// Send clears the draft and posts body in the background. Only local validation errors are
// returned; store failures go to the error handler.
func (l *Log) Send(body string) error {
	content := strings.TrimSpace(body)
	if content == "" {
		return apperrors.NewValidation("message body is required")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("chat: log is closed")
	}
	l.draft = ""
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		if _, err := l.store.Post(l.ctx, l.sess, l.ticketID, content); err != nil {
			l.fail(err)
		}
	}()
	return nil
}

// Close cancels the subscription, abandons in-flight sends and discards the log.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	handle := l.handle
	l.messages = nil
	l.seen = nil
	l.mu.Unlock()

	l.cancel()
	if handle != nil {
		handle.Cancel()
	}
	l.wg.Wait()
}

func (l *Log) receive(delivery changefeed.Delivery) {
	switch delivery.Kind {
	case changefeed.DeliveryInterrupted:
		l.mu.Lock()
		l.stale = true
		l.mu.Unlock()
		l.notify()
	case changefeed.DeliveryResumed:
		if err := l.load(l.ctx); err != nil {
			l.fail(err)
		}
	case changefeed.DeliveryEvent:
		var message models.TicketMessage
		if err := delivery.Event.DecodeAfter(&message); err != nil {
			l.log.Warn("undecodable message event", zap.Error(err))
			return
		}
		if message.TicketID != l.ticketID {
			return
		}
		l.merge([]models.TicketMessage{message}, false)
	}
}

// load fetches the full history and merges it into the log.
func (l *Log) load(ctx context.Context) error {
	history, err := l.store.History(ctx, l.sess, l.ticketID)
	if err != nil {
		return err
	}
	l.merge(history, true)
	return nil
}

func (l *Log) merge(batch []models.TicketMessage, fresh bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	changed := false
	for _, message := range batch {
		if _, dup := l.seen[message.ID]; dup {
			continue
		}
		l.seen[message.ID] = struct{}{}
		l.insertLocked(message)
		changed = true
	}
	if fresh && l.stale {
		l.stale = false
		changed = true
	}
	l.mu.Unlock()

	if changed {
		l.notify()
	}
}

func (l *Log) insertLocked(message models.TicketMessage) {
	idx := sort.Search(len(l.messages), func(i int) bool {
		return before(message, l.messages[i])
	})
	l.messages = append(l.messages, models.TicketMessage{})
	copy(l.messages[idx+1:], l.messages[idx:])
	l.messages[idx] = message
}

func before(a, b models.TicketMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (l *Log) notify() {
	select {
	case l.updates <- struct{}{}:
	default:
	}
}

func (l *Log) fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	l.log.Warn("chat operation failed", zap.Uint64("ticket_id", l.ticketID), zap.Error(err))
	if l.onError != nil {
		l.onError(err)
	}
}
