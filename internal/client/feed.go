package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/realtime"
	"github.com/charlesng35/ticketdesk/pkg/logger"
)

const (
	websocketSource = "websocket"
	serverSource    = "server"

	writeWait = 10 * time.Second
	readWait  = 90 * time.Second
)

// FeedConfig configures a Feed.
type FeedConfig struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8000/ws".
	URL string
	// Token is sent as the token query parameter.
	Token   string
	Backoff changefeed.Backoff
	Dialer  *websocket.Dialer
	// OnError receives subscription errors reported by the server.
	OnError func(subscription string, err error)
}

// Feed is a changefeed.Subscriber backed by a server websocket. Subscriptions live in a local
// changefeed.Feed so callbacks, ordering and cancellation behave exactly like the server side.
// While the socket is down subscribers see an interruption; after every reconnect the
// subscriptions are re-registered and subscribers see a resume.
type Feed struct {
	url     string
	dialer  *websocket.Dialer
	backoff changefeed.Backoff
	onError func(string, error)
	local   *changefeed.Feed
	log     *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	filters map[string]changefeed.Filter
	closed  bool
}

// NewFeed builds a Feed. Run must be called to connect.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	endpoint, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("client: invalid websocket url %q", cfg.URL)
	}
	switch endpoint.Scheme {
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	}
	if cfg.Token != "" {
		q := endpoint.Query()
		q.Set("token", cfg.Token)
		endpoint.RawQuery = q.Encode()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	f := &Feed{
		url:     endpoint.String(),
		dialer:  dialer,
		backoff: cfg.Backoff,
		onError: cfg.OnError,
		local:   changefeed.New(),
		log:     logger.WithModule("client.feed"),
		filters: make(map[string]changefeed.Filter),
	}
	// Nothing is observed until the first connection succeeds.
	f.local.Interrupt(websocketSource, errors.New("not connected"))
	return f, nil
}

// Subscribe implements changefeed.Subscriber.
func (f *Feed) Subscribe(filter changefeed.Filter, cb changefeed.Callback) (*changefeed.Handle, error) {
	id := uuid.NewString()
	handle, err := f.local.SubscribeWithID(id, filter, cb)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.filters[id] = handle.Filter()
	conn := f.conn
	f.mu.Unlock()

	handle.OnCancel(func() {
		f.mu.Lock()
		delete(f.filters, id)
		conn := f.conn
		f.mu.Unlock()
		if conn != nil {
			_ = f.write(conn, realtime.Control{Action: realtime.ActionUnsubscribe, ID: id})
		}
	})

	if conn != nil {
		if err := f.write(conn, realtime.Control{Action: realtime.ActionSubscribe, ID: id, Filter: handle.Filter()}); err != nil {
			// The read loop notices the broken socket and re-registers on reconnect.
			f.log.Debug("subscribe frame failed", zap.Error(err))
		}
	}
	return handle, nil
}

// Connected reports whether the socket is up and the server feed is healthy.
func (f *Feed) Connected() bool {
	return !f.local.Interrupted()
}

// Run connects and keeps reconnecting with backoff until ctx is done or Close is called.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.backoff
	if backoff.Min <= 0 {
		backoff.Min = time.Second
	}
	if backoff.Max <= 0 {
		backoff.Max = 30 * time.Second
	}
	delay := backoff.Min

	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil || f.isClosed() {
			return nil
		}
		if connected {
			delay = backoff.Min
		}
		f.local.Interrupt(websocketSource, err)
		f.log.Warn("websocket disconnected", zap.Error(err), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if !connected {
			delay = min(delay*2, backoff.Max)
		}
	}
}

// Close disconnects and cancels every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	f.local.Close()
}

func (f *Feed) session(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	f.conn = conn
	pending := make(map[string]changefeed.Filter, len(f.filters))
	for id, filter := range f.filters {
		pending[id] = filter
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
		_ = conn.Close()
	}()

	for id, filter := range pending {
		if err := f.write(conn, realtime.Control{Action: realtime.ActionSubscribe, ID: id, Filter: filter}); err != nil {
			return true, err
		}
	}
	// A server side interruption is re-announced by the server for the new subscriptions.
	f.local.Resume(serverSource)
	f.local.Resume(websocketSource)
	f.log.Info("websocket connected", zap.Int("subscriptions", len(pending)))

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		f.writeMu.Lock()
		defer f.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		frame, err := readFrame(conn)
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		f.dispatch(frame)
	}
}

type frame struct {
	Subscription string            `json:"subscription"`
	Event        string            `json:"event"`
	Data         *changefeed.Event `json:"data"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// readFrame decodes one server frame keeping row numbers exact.
func readFrame(conn *websocket.Conn) (frame, error) {
	var fr frame
	_, r, err := conn.NextReader()
	if err != nil {
		return fr, err
	}
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	err = decoder.Decode(&fr)
	return fr, err
}

func (f *Feed) dispatch(fr frame) {
	switch fr.Event {
	case changefeed.DeliveryEvent.String():
		if fr.Data == nil {
			return
		}
		if !f.local.Deliver(fr.Subscription, *fr.Data) {
			f.log.Debug("change for unknown subscription", zap.String("subscription", fr.Subscription))
		}
	case changefeed.DeliveryInterrupted.String():
		f.local.Interrupt(serverSource, errors.New("server change feed interrupted"))
	case changefeed.DeliveryResumed.String():
		f.local.Resume(serverSource)
	case realtime.EventError:
		err := errors.New("subscription rejected")
		if fr.Error != nil {
			err = fmt.Errorf("%s: %s", fr.Error.Code, fr.Error.Message)
		}
		f.log.Warn("server rejected frame", zap.String("subscription", fr.Subscription), zap.Error(err))
		if f.onError != nil {
			f.onError(fr.Subscription, err)
		}
	case realtime.EventSubscribed, realtime.EventUnsubscribed, realtime.EventPong:
	default:
		f.log.Debug("unknown frame", zap.String("event", fr.Event))
	}
}

func (f *Feed) write(conn *websocket.Conn, ctrl realtime.Control) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ctrl)
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Ping sends a ping control frame.
func (f *Feed) Ping() error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("client: not connected")
	}
	return f.write(conn, realtime.Control{Action: realtime.ActionPing})
}
