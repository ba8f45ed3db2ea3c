package handlers_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/handlers/testutil"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/workflow"
)

func TestMessageHandler_PostAndList(t *testing.T) {
	env := testutil.NewEnv(t)
	requester := env.Token("req-1", workflow.RoleRequester)
	resolver := env.Token("res-1", workflow.RoleResolver)
	stranger := env.Token("req-2", workflow.RoleRequester)

	ticket := createTicket(t, env, requester, "Heating")
	path := fmt.Sprintf("/api/tickets/%d/messages", ticket.ID)

	w := env.Request(http.MethodPost, path, map[string]string{"body": "  <b>cold</b> & again  "}, requester)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var posted models.TicketMessage
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &posted)
	require.Equal(t, "<b>cold</b> & again", posted.Body)
	require.Equal(t, "req-1", posted.Sender)

	w = env.Request(http.MethodPost, path, map[string]string{"body": "on my way"}, resolver)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, path, nil, resolver)
	require.Equal(t, http.StatusOK, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, 2, resp.Meta.Count)
	var history []models.TicketMessage
	testutil.DecodeInto(t, resp.Data, &history)
	require.Equal(t, "req-1", history[0].Sender)
	require.Equal(t, "<b>cold</b> & again", history[0].Body)
	require.Equal(t, "res-1", history[1].Sender)
	require.True(t, history[1].CreatedAt.After(history[0].CreatedAt))

	w = env.Request(http.MethodPost, path, map[string]string{"body": ""}, requester)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = env.Request(http.MethodPost, path, map[string]string{"body": "   "}, requester)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, path, nil, stranger)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = env.Request(http.MethodPost, path, map[string]string{"body": "hello"}, stranger)
	require.Equal(t, http.StatusNotFound, w.Code)
}
