package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/handlers"
	"github.com/charlesng35/ticketdesk/internal/middleware"
	"github.com/charlesng35/ticketdesk/internal/workflow"
)

func registerProfileRoutes(api *gin.RouterGroup, handler *handlers.ProfileHandler) {
	api.GET("/profile/me", handler.Me)
	api.GET("/resolvers", middleware.RequireRole(workflow.RoleResolver), handler.Resolvers)
}
