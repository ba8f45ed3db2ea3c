package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/push"
	"github.com/charlesng35/ticketdesk/internal/workflow"
)

type notification struct {
	UserID  string
	Payload push.Payload
}

type recordingNotifier struct {
	mu  sync.Mutex
	out chan notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{out: make(chan notification, 16)}
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, payload push.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.out <- notification{UserID: userID, Payload: payload}
	return nil
}

func (n *recordingNotifier) next(t *testing.T) notification {
	t.Helper()
	select {
	case got := <-n.out:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push")
		return notification{}
	}
}

func TestPushDispatcher_RoutesEvents(t *testing.T) {
	db, feed := openServiceDB(t)
	tickets, err := NewTicketService(db)
	require.NoError(t, err)
	chat, err := NewChatService(db, tickets)
	require.NoError(t, err)

	notifier := newRecordingNotifier()
	dispatcher := NewPushDispatcher(feed, notifier, tickets)
	require.NoError(t, dispatcher.Start())
	t.Cleanup(dispatcher.Stop)

	ctx := context.Background()
	requester := mustSession(t, "req-1", workflow.RoleRequester)
	resolver := mustSession(t, "res-1", workflow.RoleResolver)

	ticket, err := tickets.Create(ctx, requester, CreateTicketInput{
		Title:            "Broken valve in the boiler room",
		Description:      "Water on the floor",
		Category:         workflow.CategoryIncident,
		AssignedResolver: "res-1",
	})
	require.NoError(t, err)

	created := notifier.next(t)
	require.Equal(t, "res-1", created.UserID)
	require.Contains(t, created.Payload.Body, "New ticket #")
	require.Equal(t, ticketURL(ticket.ID), created.Payload.URL)

	_, err = tickets.Acknowledge(ctx, resolver, ticket.ID)
	require.NoError(t, err)
	updated := notifier.next(t)
	require.Equal(t, "req-1", updated.UserID)
	require.Contains(t, updated.Payload.Body, "ACKNOWLEDGED")

	_, err = chat.Post(ctx, resolver, ticket.ID, "on my way")
	require.NoError(t, err)
	message := notifier.next(t)
	require.Equal(t, "req-1", message.UserID)
	require.Contains(t, message.Payload.Body, "on my way")

	_, err = chat.Post(ctx, requester, ticket.ID, "thanks")
	require.NoError(t, err)
	reply := notifier.next(t)
	require.Equal(t, "res-1", reply.UserID)

	dispatcher.Stop()
	_, err = tickets.Start(ctx, resolver, ticket.ID, "")
	require.NoError(t, err)
	select {
	case got := <-notifier.out:
		t.Fatalf("unexpected push after stop: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type watchingNotifier struct {
	*recordingNotifier
	watched int
	stopped int
}

func (w *watchingNotifier) WatchSubscriptions(changefeed.Subscriber) error {
	w.watched++
	return nil
}

func (w *watchingNotifier) StopWatching() { w.stopped++ }

func TestPushDispatcher_DrivesSubscriptionWatching(t *testing.T) {
	db, feed := openServiceDB(t)
	tickets, err := NewTicketService(db)
	require.NoError(t, err)

	notifier := &watchingNotifier{recordingNotifier: newRecordingNotifier()}
	dispatcher := NewPushDispatcher(feed, notifier, tickets)
	require.NoError(t, dispatcher.Start())
	require.NoError(t, dispatcher.Start())
	require.Equal(t, 1, notifier.watched)

	dispatcher.Stop()
	require.Equal(t, 1, notifier.stopped)
}
