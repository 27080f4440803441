package routes

import (
	"presence-service/internal/api/handlers"
	"presence-service/internal/api/middleware"
	"presence-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine        *gin.Engine
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
}

func NewRouter(hub *websocket.Hub, allowedOrigins []string) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(allowedOrigins))
	engine.Use(middleware.LogApi())

	return &Router{
		engine:        engine,
		wsHandler:     handlers.NewWSHandler(hub, allowedOrigins),
		healthHandler: handlers.NewHealthHandler(hub),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.healthHandler.Health)

	api := r.engine.Group("/api/v1")
	api.GET("/ws", r.wsHandler.HandleWebSocket)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
