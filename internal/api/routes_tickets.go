package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ticketdesk/internal/handlers"
)

func registerTicketRoutes(api *gin.RouterGroup, tickets *handlers.TicketHandler, messages *handlers.MessageHandler) {
	group := api.Group("/tickets")
	{
		group.POST("", tickets.Create)
		group.GET("", tickets.List)
		group.GET("/:id", tickets.Get)
		group.POST("/:id/start", tickets.Start)
		group.POST("/:id/complete", tickets.Complete)
		group.POST("/:id/reject", tickets.Reject)
		group.POST("/:id/reassign", tickets.Reassign)

		group.GET("/:id/messages", messages.List)
		group.POST("/:id/messages", messages.Post)
	}
}
