package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/services"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// ProfileHandler exposes the caller's profile and the resolver directory.
type ProfileHandler struct {
	profiles *services.ProfileService
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Me returns the caller's profile, creating it on first sight.
func (h *ProfileHandler) Me(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	profile, err := h.profiles.Ensure(requestContext(c), sess)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// Resolvers lists resolver profiles for reassignment.
func (h *ProfileHandler) Resolvers(c *gin.Context) {
	profiles, err := h.profiles.Resolvers(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, profiles, &response.Meta{Count: len(profiles)})
}
