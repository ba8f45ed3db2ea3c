package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

func TestChatService_PostKeepsBodyAndOrders(t *testing.T) {
	db, _ := openServiceDB(t)
	tickets, err := NewTicketService(db, WithDefaultResolver("res-1"))
	require.NoError(t, err)

	clock := time.Date(2024, 10, 2, 10, 0, 0, 0, time.UTC)
	chat, err := NewChatService(db, tickets, WithChatClock(func() time.Time { return clock }))
	require.NoError(t, err)

	ctx := context.Background()
	requester := mustSession(t, "req-1", workflow.RoleRequester)
	resolver := mustSession(t, "res-1", workflow.RoleResolver)
	ticket := createTicket(t, tickets, requester, "Door")

	first, err := chat.Post(ctx, requester, ticket.ID, "  Tom & Jerry <b>hi</b>\n")
	require.NoError(t, err)
	require.Equal(t, "Tom & Jerry <b>hi</b>", first.Body)
	require.Equal(t, "req-1", first.Sender)

	// Same wall clock; the second message still sorts after the first.
	second, err := chat.Post(ctx, resolver, ticket.ID, "on my way")
	require.NoError(t, err)
	require.True(t, second.CreatedAt.After(first.CreatedAt))

	history, err := chat.History(ctx, requester, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, first.ID, history[0].ID)
	require.Equal(t, "Tom & Jerry <b>hi</b>", history[0].Body)
	require.Equal(t, second.ID, history[1].ID)
	require.Equal(t, "res-1", history[1].Sender)
}

func TestChatService_Validation(t *testing.T) {
	db, _ := openServiceDB(t)
	tickets, err := NewTicketService(db)
	require.NoError(t, err)
	chat, err := NewChatService(db, tickets)
	require.NoError(t, err)

	ctx := context.Background()
	owner := mustSession(t, "req-1", workflow.RoleRequester)
	stranger := mustSession(t, "req-2", workflow.RoleRequester)
	ticket := createTicket(t, tickets, owner, "Window")

	_, err = chat.Post(ctx, owner, ticket.ID, "   ")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = chat.Post(ctx, owner, ticket.ID, strings.Repeat("x", MaxChatMessageLength+1))
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = chat.Post(ctx, stranger, ticket.ID, "hello")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = chat.History(ctx, stranger, ticket.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = NewChatService(db, nil)
	require.Error(t, err)
}
