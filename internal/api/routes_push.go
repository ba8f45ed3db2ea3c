package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/handlers"
)

func registerPushRoutes(api *gin.RouterGroup, handler *handlers.PushHandler) {
	group := api.Group("/push")
	{
		group.GET("/public-key", handler.PublicKey)
		group.PUT("/subscription", handler.SaveSubscription)
		group.DELETE("/subscription", handler.DeleteSubscription)
	}
}
