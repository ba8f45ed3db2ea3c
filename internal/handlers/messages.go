package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/services"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// MessageHandler exposes the per-ticket chat log.
type MessageHandler struct {
	chat *services.ChatService
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(chat *services.ChatService) *MessageHandler {
	return &MessageHandler{chat: chat}
}

type postMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

// List returns the ticket's messages in timestamp order.
func (h *MessageHandler) List(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	messages, err := h.chat.History(requestContext(c), sess, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, messages, &response.Meta{Count: len(messages)})
}

// Post appends a message to the ticket's chat log.
func (h *MessageHandler) Post(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	message, err := h.chat.Post(requestContext(c), sess, id, req.Body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, message)
}
