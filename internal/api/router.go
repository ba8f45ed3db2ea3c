package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/app"
	iauth "github.com/charlesng35/ticketdesk/internal/auth"
	"github.com/charlesng35/ticketdesk/internal/handlers"
	"github.com/charlesng35/ticketdesk/internal/middleware"
	"github.com/charlesng35/ticketdesk/internal/monitoring"
	"github.com/charlesng35/ticketdesk/internal/realtime"
	"github.com/charlesng35/ticketdesk/internal/services"
)

// Services bundles the domain services the routes expose.
type Services struct {
	Tickets  *services.TicketService
	Chat     *services.ChatService
	Profiles *services.ProfileService
	Push     *services.PushService
	Hub      *realtime.Hub
	// Health holds the dependency probes. If nil, readiness only pings the database.
	Health *monitoring.HealthManager
}

// NewRouter builds the Gin engine, wires middleware and registers the ticket desk routes.
// A nil rate store disables rate limiting.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svc Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc.Tickets == nil || svc.Chat == nil || svc.Profiles == nil || svc.Push == nil {
		return nil, fmt.Errorf("ticket, chat, profile and push services must be provided")
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, db, cfg, svc.Health)

	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)
	api.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, rateWindow(cfg)))

	profileHandler := handlers.NewProfileHandler(svc.Profiles)
	registerProfileRoutes(api, profileHandler)
	registerTicketRoutes(api, handlers.NewTicketHandler(svc.Tickets), handlers.NewMessageHandler(svc.Chat))
	registerPushRoutes(api, handlers.NewPushHandler(svc.Push))

	// Websocket upgrades authenticate with the token query parameter.
	realtimeHandler := handlers.NewRealtimeHandler(svc.Hub, svc.Tickets)
	r.GET("/ws", requireAuth, realtimeHandler.Stream)

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

func rateWindow(cfg *app.Config) time.Duration {
	if cfg.Server.RateLimit.Window <= 0 {
		return time.Minute
	}
	return cfg.Server.RateLimit.Window
}
