package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

type ownedTickets map[uint64]string

func (o ownedTickets) List(context.Context, desk.Query) ([]models.Ticket, error) { return nil, nil }

func (o ownedTickets) Get(_ context.Context, sess session.Session, id uint64) (*models.Ticket, error) {
	creator, ok := o[id]
	if !ok || (sess.Role == workflow.RoleRequester && creator != sess.UserID) {
		return nil, apperrors.ErrNotFound
	}
	return &models.Ticket{ID: id, Creator: creator}, nil
}

func (o ownedTickets) Acknowledge(ctx context.Context, sess session.Session, id uint64) (*models.Ticket, error) {
	return o.Get(ctx, sess, id)
}

func startHub(t *testing.T, sess session.Session) (*Hub, *changefeed.Feed, *websocket.Conn) {
	t.Helper()
	feed := changefeed.New()
	t.Cleanup(feed.Close)
	hub := NewHub(feed)
	t.Cleanup(hub.Close)

	view, err := desk.For(sess, ownedTickets{1: "req-1", 2: "req-2", 1234567: "req-1"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(view, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return hub, feed, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Subscription string            `json:"subscription"`
		Event        string            `json:"event"`
		Data         *changefeed.Event `json:"data"`
		Error        *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	out := Message{Subscription: msg.Subscription, Event: msg.Event, Data: msg.Data}
	if msg.Error != nil {
		out.Error = &apperrors.AppError{Code: msg.Error.Code}
	}
	return out
}

func TestHubSubscribeDeliverUnsubscribe(t *testing.T) {
	_, feed, conn := startHub(t, session.Session{UserID: "req-1", Role: workflow.RoleRequester})

	require.NoError(t, conn.WriteJSON(Control{
		Action: ActionSubscribe,
		ID:     "mine",
		Filter: changefeed.Filter{Table: "tickets", Operation: "update", Column: "creator", Value: "req-1"},
	}))
	ack := readFrame(t, conn)
	require.Equal(t, EventSubscribed, ack.Event)
	require.Equal(t, "mine", ack.Subscription)

	feed.Publish(changefeed.Event{
		Table:     desk.TicketsTable,
		Operation: changefeed.OpUpdate,
		Before:    changefeed.Row{"id": 1, "creator": "req-1", "status": "submitted"},
		After:     changefeed.Row{"id": 1, "creator": "req-1", "status": "acknowledged"},
	})
	change := readFrame(t, conn)
	require.Equal(t, "change", change.Event)
	require.Equal(t, "mine", change.Subscription)
	require.NotNil(t, change.Data)
	require.Equal(t, "acknowledged", change.Data.After["status"])

	feed.Interrupt("test", nil)
	require.Equal(t, "feed.interrupted", readFrame(t, conn).Event)
	feed.Resume("test")
	require.Equal(t, "feed.resumed", readFrame(t, conn).Event)

	require.NoError(t, conn.WriteJSON(Control{Action: ActionUnsubscribe, ID: "mine"}))
	require.Equal(t, EventUnsubscribed, readFrame(t, conn).Event)
	require.Eventually(t, func() bool { return feed.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Control{Action: ActionPing}))
	require.Equal(t, EventPong, readFrame(t, conn).Event)
}

func TestHubMatchesLargeTicketIdFromClientJSON(t *testing.T) {
	_, feed, conn := startHub(t, session.Session{UserID: "req-1", Role: workflow.RoleRequester})

	frame := `{"action":"subscribe","id":"chat","filter":{"table":"messages","operation":"insert","column":"ticket_id","value":1234567}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	require.Equal(t, EventSubscribed, readFrame(t, conn).Event)

	feed.Publish(changefeed.Event{
		Table:     desk.MessagesTable,
		Operation: changefeed.OpInsert,
		After:     changefeed.Row{"id": uint64(10), "ticket_id": uint64(1234567), "body": "on my way"},
	})
	change := readFrame(t, conn)
	require.Equal(t, "change", change.Event)
	require.Equal(t, "chat", change.Subscription)
	require.Equal(t, "on my way", change.Data.After["body"])
}

func TestDecodeControlKeepsNumbersExact(t *testing.T) {
	ctrl, err := DecodeControl([]byte(`{"action":"subscribe","id":"a","filter":{"table":"messages","column":"ticket_id","value":9007199254740993}}`))
	require.NoError(t, err)
	require.Equal(t, json.Number("9007199254740993"), ctrl.Filter.Value)

	_, err = DecodeControl([]byte(`{"action":`))
	require.Error(t, err)
}

func TestHubRejectsForeignFilters(t *testing.T) {
	_, feed, conn := startHub(t, session.Session{UserID: "req-1", Role: workflow.RoleRequester})

	require.NoError(t, conn.WriteJSON(Control{
		Action: ActionSubscribe,
		ID:     "spy",
		Filter: changefeed.Filter{Table: "tickets", Column: "creator", Value: "req-2"},
	}))
	denied := readFrame(t, conn)
	require.Equal(t, EventError, denied.Event)
	require.Equal(t, apperrors.ErrForbidden.Code, denied.Error.Code)

	require.NoError(t, conn.WriteJSON(Control{
		Action: ActionSubscribe,
		ID:     "chat",
		Filter: changefeed.Filter{Table: "messages", Operation: "insert", Column: "ticket_id", Value: 2},
	}))
	require.Equal(t, apperrors.ErrNotFound.Code, readFrame(t, conn).Error.Code)

	require.NoError(t, conn.WriteJSON(Control{
		Action: ActionSubscribe,
		ID:     "chat",
		Filter: changefeed.Filter{Table: "messages", Operation: "insert", Column: "ticket_id", Value: 1},
	}))
	require.Equal(t, EventSubscribed, readFrame(t, conn).Event)
	require.Equal(t, 1, feed.Len())

	require.NoError(t, conn.WriteJSON(Control{Action: ActionSubscribe, ID: "bad", Filter: changefeed.Filter{}}))
	require.Equal(t, apperrors.ErrValidation.Code, readFrame(t, conn).Error.Code)
}

func TestHubReleasesSubscriptionsOnDisconnect(t *testing.T) {
	hub, feed, conn := startHub(t, session.Session{UserID: "res-1", Role: workflow.RoleResolver})

	for _, id := range []string{"a", "b"} {
		require.NoError(t, conn.WriteJSON(Control{Action: ActionSubscribe, ID: id, Filter: changefeed.Filter{Table: "tickets"}}))
		require.Equal(t, EventSubscribed, readFrame(t, conn).Event)
	}
	require.Equal(t, 2, feed.Len())
	require.Equal(t, 1, hub.Len())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Len() == 0 && hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHostHelpers(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("https://example.com:8443"))
	require.Equal(t, "10.0.0.1", hostWithoutPort("10.0.0.1:80"))
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("localhost"))
	require.False(t, isLoopback("example.com"))
}
