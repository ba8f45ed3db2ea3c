// Package realtime exposes the change feed to websocket clients.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/desk"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/logger"
	"github.com/charlesng35/ticketdesk/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 256
	maxSubscriptions  = 64
)

// Server frame events besides the change feed delivery kinds.
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
	EventPong         = "pong"
)

// Control actions accepted from clients.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Message is a frame sent to a client.
type Message struct {
	Subscription string              `json:"subscription,omitempty"`
	Event        string              `json:"event"`
	Data         *changefeed.Event   `json:"data,omitempty"`
	Error        *apperrors.AppError `json:"error,omitempty"`
}

// Control is a frame received from a client.
type Control struct {
	Action string            `json:"action"`
	ID     string            `json:"id,omitempty"`
	Filter changefeed.Filter `json:"filter,omitempty"`
}

// DecodeControl parses a client frame. Numbers stay exact so filter values such as ticket
// ids compare equal to stored columns.
func DecodeControl(payload []byte) (Control, error) {
	var ctrl Control
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&ctrl); err != nil {
		return Control{}, err
	}
	return ctrl, nil
}

// Option customises a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-connection outbound queue length.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithCheckOrigin replaces the default same-host origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// Hub upgrades websocket connections and bridges their subscriptions onto the change feed.
type Hub struct {
	feed       changefeed.Subscriber
	upgrader   websocket.Upgrader
	bufferSize int
	log        *zap.Logger

	mu     sync.RWMutex
	conns  map[*connection]struct{}
	closed bool
}

// NewHub constructs a realtime hub.
func NewHub(feed changefeed.Subscriber, opts ...Option) *Hub {
	h := &Hub{
		feed:       feed,
		bufferSize: defaultBufferSize,
		log:        logger.WithModule("realtime"),
		conns:      make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the HTTP connection and runs it until the client goes away. Every filter the
// client subscribes with is checked by view.
func (h *Hub) Serve(view desk.View, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn, view)
	if !h.register(client) {
		client.close()
		return
	}

	go client.writeLoop()
	client.readLoop(r.Context())
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	metrics.RealtimeConnections.Inc()
	return true
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	metrics.RealtimeConnections.Dec()
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	view   desk.View
	userID string
	send   chan Message
	once   sync.Once

	mu     sync.RWMutex
	subs   map[string]*changefeed.Handle
	closed bool
}

func newConnection(hub *Hub, conn *websocket.Conn, view desk.View) *connection {
	return &connection{
		hub:    hub,
		socket: conn,
		view:   view,
		userID: view.Session().UserID,
		send:   make(chan Message, hub.bufferSize),
		subs:   make(map[string]*changefeed.Handle),
	}
}

func (c *connection) readLoop(ctx context.Context) {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Info("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))

		if len(payload) == 0 {
			continue
		}

		ctrl, err := DecodeControl(payload)
		if err != nil {
			c.enqueue(errorMessage("", apperrors.NewBadRequest("invalid control frame")))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case ActionSubscribe:
			c.subscribe(ctx, ctrl.ID, ctrl.Filter)
		case ActionUnsubscribe:
			c.unsubscribe(ctrl.ID)
		case ActionPing:
			c.enqueue(Message{Event: EventPong})
		default:
			c.enqueue(errorMessage(ctrl.ID, apperrors.NewBadRequest("unsupported action "+ctrl.Action)))
		}
	}
}

func (c *connection) subscribe(ctx context.Context, id string, filter changefeed.Filter) {
	id = strings.TrimSpace(id)
	if id == "" {
		c.enqueue(errorMessage("", apperrors.NewValidation("subscription id is required")))
		return
	}

	normalized, err := filter.Normalize()
	if err != nil {
		c.enqueue(errorMessage(id, apperrors.NewValidation(err.Error())))
		return
	}
	if err := c.view.AuthorizeFilter(ctx, normalized); err != nil {
		c.enqueue(errorMessage(id, apperrors.FromError(err)))
		return
	}

	c.mu.RLock()
	count := len(c.subs)
	_, replacing := c.subs[id]
	c.mu.RUnlock()
	if !replacing && count >= maxSubscriptions {
		c.enqueue(errorMessage(id, apperrors.NewBadRequest("too many subscriptions")))
		return
	}

	handle, err := c.hub.feed.Subscribe(normalized, func(d changefeed.Delivery) {
		msg := Message{Subscription: id, Event: d.Kind.String()}
		if d.Kind == changefeed.DeliveryEvent {
			evt := d.Event
			msg.Data = &evt
		}
		c.enqueue(msg)
	})
	if err != nil {
		c.enqueue(errorMessage(id, apperrors.FromError(err)))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		handle.Cancel()
		return
	}
	previous := c.subs[id]
	c.subs[id] = handle
	c.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}

	c.hub.log.Debug("subscribed",
		zap.String("user_id", c.userID),
		zap.String("subscription", id),
		zap.Stringer("filter", normalized))
	c.enqueue(Message{Subscription: id, Event: EventSubscribed})
}

func (c *connection) unsubscribe(id string) {
	c.mu.Lock()
	handle, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if !ok {
		c.enqueue(errorMessage(id, apperrors.ErrNotFound.WithMessage("unknown subscription")))
		return
	}
	handle.Cancel()
	c.enqueue(Message{Subscription: id, Event: EventUnsubscribed})
}

// enqueue never blocks. A client that cannot keep up is disconnected; the close runs on its own
// goroutine because enqueue is called from change feed callbacks.
func (c *connection) enqueue(msg Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.hub.log.Warn("dropping backpressure client", zap.String("user_id", c.userID))
		go c.close()
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		handles := c.subs
		c.subs = nil
		close(c.send)
		c.mu.Unlock()

		for _, h := range handles {
			h.Cancel()
		}
		c.hub.unregister(c)
		_ = c.socket.Close()
	})
}

func errorMessage(id string, err *apperrors.AppError) Message {
	return Message{Subscription: id, Event: EventError, Error: err}
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
