package http

import (
	"time"

	"idle_mining/internal/http/handlers"
	"idle_mining/internal/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteConfig carries what the router needs beyond the handlers
type RouteConfig struct {
	AdminAPIKey     string
	RateLimit       int
	RateLimitWindow time.Duration
	Limiter         *middleware.RateLimiter
	CORSOrigins     []string
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, health *handlers.HealthHandler, cfg RouteConfig) {
	r.Use(middleware.RequestLogger(), middleware.Metrics(), middleware.CORS(cfg.CORSOrigins))

	// Health checks (no rate limiting)
	r.GET("/health", health.Health)
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil)
	}
	rl := limiter.PerAddress(cfg.RateLimit, cfg.RateLimitWindow)

	v1 := r.Group("/api/v1")
	v1.GET("/catalog", h.Catalog)

	players := v1.Group("/players/:address")
	{
		players.GET("", h.GetPlayer)
		players.POST("/heartbeat", rl, h.Heartbeat)
		players.POST("/pickaxes", rl, h.PurchasePickaxe)
		players.POST("/sell", rl, h.SellCurrency)
		players.POST("/land", rl, h.GrantLand)
		players.POST("/referrals", rl, h.CreditReferral)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AdminKey(cfg.AdminAPIKey))
	{
		admin.GET("/stats", h.Stats)
		admin.GET("/degraded", h.ListDegraded)
		admin.GET("/players", h.ListPlayers)
		admin.GET("/players/:address", h.AdminGetPlayer)
		admin.GET("/players/:address/ledger", h.PlayerLedger)
		admin.POST("/players/:address/reconcile", h.Reconcile)
		admin.POST("/players/:address/discard", h.Discard)
		admin.DELETE("/players/:address", h.ResetPlayer)
	}
}
