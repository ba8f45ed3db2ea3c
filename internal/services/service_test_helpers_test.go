package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/database/testutil"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/push"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
)

func openServiceDB(t *testing.T) (*gorm.DB, *changefeed.Feed) {
	t.Helper()
	feed := changefeed.New()
	t.Cleanup(feed.Close)
	db := testutil.MustOpenTestDB(t,
		testutil.WithPlugin(changefeed.NewCapture(feed, desk.ObservedTables()...)),
		testutil.WithAutoMigrate(),
	)
	return db, feed
}

func mustSession(t *testing.T, userID string, role workflow.Role) session.Session {
	t.Helper()
	sess, err := session.New(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return sess
}

func createTicket(t *testing.T, svc *TicketService, sess session.Session, title string) *models.Ticket {
	t.Helper()
	ticket, err := svc.Create(context.Background(), sess, CreateTicketInput{
		Title:       title,
		Description: "details for " + title,
		Category:    workflow.CategoryIncident,
	})
	require.NoError(t, err)
	return ticket
}

type sentPush struct {
	Endpoint string
	Payload  push.Payload
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentPush
	err  error
}

func (f *fakeSender) Send(_ context.Context, desc models.PushDescriptor, payload push.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentPush{Endpoint: desc.Endpoint, Payload: payload})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testDescriptor(endpoint string) models.PushDescriptor {
	return models.PushDescriptor{
		Endpoint: endpoint,
		Keys:     models.PushKeys{P256dh: "p256dh-key", Auth: "auth-secret"},
	}
}
