package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"folioassist/internal/logger"
)

// RouterConfig holds the cross-cutting pieces of the HTTP server.
type RouterConfig struct {
	AllowedOrigins []string
	Limiter        gin.HandlerFunc     // nil disables rate limiting
	Gatherer       prometheus.Gatherer // nil uses the default registry
	Logger         zerolog.Logger
}

// NewRouter builds the gin engine with middleware, chat routes and /metrics.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(cfg.Logger))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(CORS(cfg.AllowedOrigins))
	}

	h.RegisterRoutes(router, cfg.Limiter)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}
