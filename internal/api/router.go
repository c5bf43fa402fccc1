package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"vera-home/config"
	"vera-home/internal/application"
	"vera-home/internal/infra/history"
)

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	States(ctx context.Context, deviceID, limit int) ([]history.StateRecord, error)
	Commands(ctx context.Context, deviceID, limit int) ([]history.CommandRecord, error)
}

type Router struct {
	engine  *gin.Engine
	bridge  *application.Bridge
	history HistoryReader
	cfg     config.APIConfig
	logger  *slog.Logger
}

// NewRouter builds the REST surface. history may be nil when the store is
// disabled.
func NewRouter(bridge *application.Bridge, hist HistoryReader, cfg config.APIConfig, logger *slog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(corsMiddleware(cfg.CORSOrigins))

	r := &Router{
		engine:  engine,
		bridge:  bridge,
		history: hist,
		cfg:     cfg,
		logger:  logger,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.health)

	v1 := r.engine.Group("/api/v1")
	if r.cfg.RateLimit > 0 {
		v1.Use(NewRateLimiter(r.cfg.RateLimit, r.cfg.RateWindow).Middleware())
	}
	auth := requireToken(r.cfg.AuthToken, r.logger)

	v1.GET("/health", r.health)
	v1.GET("/actions", r.listActions)
	v1.GET("/rooms", r.listRooms)

	devices := v1.Group("/devices")
	{
		devices.GET("", r.listDevices)
		devices.GET("/:id", r.getDevice)
		devices.GET("/:id/history", r.deviceHistory)
		devices.POST("/:id/commands", auth, r.sendCommand)
		devices.POST("/:id/refresh", auth, r.refreshDevice)
	}

	scenes := v1.Group("/scenes")
	{
		scenes.GET("", r.listScenes)
		scenes.POST("/:id/run", auth, r.runScene)
	}
}

func (r *Router) Handler() *gin.Engine { return r.engine }
