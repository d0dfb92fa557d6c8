package router

import (
	"time"

	"zotalk/config"
	"zotalk/internal/call"
	"zotalk/internal/handler"
	"zotalk/internal/middleware"
	"zotalk/internal/presence"
	"zotalk/internal/repository"
	"zotalk/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Setup constructs every component once and wires them together; no
// package-level state. The returned tracker's Run loop is started by
// the caller.
func Setup(cfg *config.Config, db *gorm.DB) (*gin.Engine, *presence.Tracker) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	presenceRepo := repository.NewPresenceRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Realtime core
	registry := ws.NewRegistry()
	tracker := presence.NewTracker(presenceRepo, registry,
		cfg.Realtime.OnlineTimeout, cfg.Realtime.DisconnectGrace, cfg.Realtime.SweepInterval)
	coordinator := call.NewCoordinator(registry, cfg.Realtime.RingTimeout)
	dispatcher := handler.NewDispatcher(registry, tracker, coordinator, cfg.ICE.Servers)

	// Handlers
	presenceHandler := handler.NewPresenceHandler(tracker, presenceRepo, userRepo)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/ws", handler.UpgradeRealtimeWS(&cfg.JWT, dispatcher))

	api := r.Group("/api/v1")
	{
		api.GET("/users/:id/presence", presenceHandler.GetUserPresence)
		api.GET("/ice-servers", handler.GetICEServers(&cfg.ICE))
	}

	return r, tracker
}
