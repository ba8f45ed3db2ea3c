package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/realtime"
	"github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// RealtimeHandler upgrades authenticated requests into change feed websocket streams.
type RealtimeHandler struct {
	hub     *realtime.Hub
	tickets desk.TicketSource
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, tickets desk.TicketSource) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, tickets: tickets}
}

// Stream binds the caller's view to a websocket connection. The filters a client may subscribe
// with are checked against that view.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	view, err := desk.For(sess, h.tickets)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.hub.Serve(view, c.Writer, c.Request)
}
