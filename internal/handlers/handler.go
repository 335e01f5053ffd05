package handlers

import (
	"net/http"

	"actuator_dashboard/internal/logger"
	"actuator_dashboard/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	metrics  http.Handler
}

// NewHandler constructs a new HTTP handler with dependencies. metrics may be
// nil, in which case /metrics is not mounted.
func NewHandler(services *service.Service, log *logger.Logger, metrics http.Handler) *Handler {
	return &Handler{services: services, log: log, metrics: metrics}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// Snapshot stream (HTTP upgrade) on the same port
	router.GET("/ws", h.wsConnect)

	if h.services.Simulator != nil {
		h.registerSimulatorRoutes(router)
	}

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerPanelRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerPanelRoutes(api *gin.RouterGroup) {
	panels := api.Group("/panels")
	{
		panels.GET("", h.listPanels)
		panels.GET("/:panel/state", h.getPanelState)
		panels.POST("/:panel/fields/:field/toggle", h.toggleField)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("", h.getLogs)
	}
}

// registerSimulatorRoutes mounts the channel emulator with the remote
// service's own paths under /sim.
func (h *Handler) registerSimulatorRoutes(r *gin.Engine) {
	sim := r.Group("/sim")
	{
		sim.GET("/channels/:channel/feeds/last.json", h.simLastEntry)
		sim.GET("/update", h.simUpdate)
		sim.POST("/update", h.simUpdate)
	}
}
