package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/services"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// TicketHandler exposes ticket creation, dashboards and state transitions.
type TicketHandler struct {
	tickets *services.TicketService
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

type noteRequest struct {
	Note string `json:"note" validate:"max=4000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=4000"`
}

type reassignRequest struct {
	Resolver string `json:"resolver" validate:"max=255"`
}

// Create submits a new ticket on behalf of the caller.
func (h *TicketHandler) Create(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}

	var req services.CreateTicketInput
	if !bindAndValidate(c, &req) {
		return
	}

	ticket, err := h.tickets.Create(requestContext(c), sess, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ticket)
}

// List returns the caller's dashboard. Query: status (token or "all"), assigned=me, limit.
func (h *TicketHandler) List(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}

	status := strings.TrimSpace(c.Query("status"))
	tickets, err := view.Tickets(requestContext(c), desk.ListOptions{
		Status:       status,
		AssignedToMe: strings.EqualFold(strings.TrimSpace(c.Query("assigned")), "me"),
		Limit:        parseIntQuery(c, "limit", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, tickets, &response.Meta{Count: len(tickets), Status: status})
}

// Get opens a ticket. Resolvers acknowledge submitted tickets by opening them.
func (h *TicketHandler) Get(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	ticket, err := view.Open(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, ticket)
}

// Start moves a ticket to in_progress.
func (h *TicketHandler) Start(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req noteRequest
	if !bindOptional(c, &req) {
		return
	}

	ticket, err := h.tickets.Start(requestContext(c), sess, id, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, ticket)
}

// Complete resolves an in-progress ticket.
func (h *TicketHandler) Complete(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req noteRequest
	if !bindOptional(c, &req) {
		return
	}

	ticket, err := h.tickets.Complete(requestContext(c), sess, id, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, ticket)
}

// Reject closes a ticket with a reason.
func (h *TicketHandler) Reject(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req rejectRequest
	if !bindOptional(c, &req) {
		return
	}

	ticket, err := h.tickets.Reject(requestContext(c), sess, id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, ticket)
}

// Reassign hands a ticket to another resolver.
func (h *TicketHandler) Reassign(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req reassignRequest
	if !bindOptional(c, &req) {
		return
	}

	ticket, err := h.tickets.Reassign(requestContext(c), sess, id, req.Resolver)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, ticket)
}

func (h *TicketHandler) view(c *gin.Context) (desk.View, bool) {
	sess, ok := currentSession(c)
	if !ok {
		return nil, false
	}
	view, err := desk.For(sess, h.tickets)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return view, true
}
