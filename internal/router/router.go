package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/careline/bookingbot/internal/middleware"
	"github.com/careline/bookingbot/pkg/logger"
)

// Handler is anything that can mount itself on the API group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

type Router struct {
	engine   *gin.Engine
	handlers []Handler
}

func NewRouter(cfg Config, l *logger.Logger, handlers ...Handler) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(l),
	)

	if cfg.RateLimit > 0 {
		engine.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	return &Router{engine: engine, handlers: handlers}
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")
	for _, h := range r.handlers {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
