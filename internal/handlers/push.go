package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/services"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// PushHandler exposes push descriptor registration.
type PushHandler struct {
	push *services.PushService
}

// NewPushHandler constructs a PushHandler.
func NewPushHandler(push *services.PushService) *PushHandler {
	return &PushHandler{push: push}
}

// PublicKey returns the VAPID application server key.
func (h *PushHandler) PublicKey(c *gin.Context) {
	key, err := h.push.PublicKey(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"public_key": key})
}

// SaveSubscription stores the caller's descriptor, replacing any earlier one.
func (h *PushHandler) SaveSubscription(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var descriptor models.PushDescriptor
	if !bindAndValidate(c, &descriptor) {
		return
	}

	if err := h.push.SaveDescriptor(requestContext(c), sess.UserID, descriptor); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteSubscription removes the caller's descriptor.
func (h *PushHandler) DeleteSubscription(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	if err := h.push.DeleteDescriptor(requestContext(c), sess.UserID); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
