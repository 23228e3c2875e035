package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/handlers"
	"github.com/yombo/yombo-gateway-sub004/pkg/metrics"
)

// Router holds the Gin engine and dependencies
type Router struct {
	engine  *gin.Engine
	gw      handlers.Gateway
	metrics *metrics.Metrics
}

// NewRouter creates a new API router. m may be nil, which disables
// /metrics and request metrics.
func NewRouter(gw handlers.Gateway, m *metrics.Metrics) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine, m)

	router := &Router{
		engine:  engine,
		gw:      gw,
		metrics: m,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	if r.metrics != nil {
		r.engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	// Health check at root
	healthHandler := handlers.NewHealthHandler(r.gw)
	r.engine.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		devicesHandler := handlers.NewDevicesHandler(r.gw)
		commandsHandler := handlers.NewCommandsHandler(r.gw)
		stateHandler := handlers.NewStateHandler(r.gw)

		devices := v1.Group("/devices")
		{
			devices.GET("", devicesHandler.ListDevices)
			devices.GET("/:id", devicesHandler.GetDevice)
			devices.PATCH("/:id", devicesHandler.UpdateDevice)
			devices.DELETE("/:id", devicesHandler.RemoveDevice)

			devices.GET("/:id/commands", commandsHandler.ListCommands)
			devices.POST("/:id/commands", commandsHandler.SendCommand)

			devices.GET("/:id/state", stateHandler.GetState)
			devices.POST("/:id/state", stateHandler.SetState)
			devices.GET("/:id/states", stateHandler.StateHistory)
		}

		commands := v1.Group("/commands")
		{
			commands.GET("/:id", commandsHandler.GetCommand)
			commands.POST("/:id/cancel", commandsHandler.CancelCommand)
			commands.POST("/:id/ack", commandsHandler.AcknowledgeCommand)
		}

		v1.GET("/energy", stateHandler.Energy)
	}
}

// Handler exposes the engine, mainly for tests.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
