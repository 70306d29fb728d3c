package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"formation-backend/internal/services/health"
	"formation-backend/internal/shared/config"
	"formation-backend/internal/shared/metrics"
	"formation-backend/internal/shared/server/middleware"
	"formation-backend/internal/shared/server/respond"
)

// RouteRegistrar attaches a domain's routes to the API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps contains all handlers needed to build the router.
type RouterDeps struct {
	Config          config.Config
	WorkflowHandler RouteRegistrar
	DocumentHandler RouteRegistrar
	PaymentHandler  RouteRegistrar
	Health          *health.Service
	// RateLimiter is shared across requests; nil disables throttling.
	RateLimiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !config.IsDevLike(deps.Config.Env) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.JWTSecret),
	)
	if deps.RateLimiter != nil {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Rules:   middleware.DefaultRateLimitRules(),
			Limiter: deps.RateLimiter,
		}))
	}

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		status, ok := deps.Health.Status(c.Request.Context())
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	registerMeRoutes(api)

	for _, h := range []RouteRegistrar{deps.WorkflowHandler, deps.DocumentHandler, deps.PaymentHandler} {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
