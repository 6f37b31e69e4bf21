package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idle_mining/internal/cache"
	"idle_mining/internal/config"
	"idle_mining/internal/db"
	httpServer "idle_mining/internal/http"
	"idle_mining/internal/http/handlers"
	"idle_mining/internal/http/middleware"
	"idle_mining/internal/logger"
	"idle_mining/internal/repository"
	"idle_mining/internal/service"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	}

	var store repository.Store
	switch cfg.StoreBackend {
	case config.BackendRedis:
		store = repository.NewRedisStore(redisClient, cfg.Catalog)
		logger.Info("using redis store", "addr", cfg.RedisAddr)
	default:
		if err := db.InitializeSchema(cfg.DatabaseURL); err != nil {
			// keep serving from the fallback cache until the database is back
			logger.Error("schema initialization failed", "error", err)
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			logger.Fatal("database pool", "error", err)
		}
		defer pool.Close()
		store = repository.NewPlayerRepository(pool, cfg.Catalog)
	}

	fallback, err := cache.New(cfg.CacheSize, cfg.Catalog)
	if err != nil {
		logger.Fatal("fallback cache", "error", err)
	}

	coord := service.NewCoordinator(store, fallback, cfg.Catalog, service.Options{
		RepoTimeout: cfg.RepoTimeout,
		MaxRetries:  cfg.CASMaxRetries,
		OnSale: func(ctx context.Context, address string, amount, payout float64) {
			logger.WithContext(ctx).Info("sale committed, payout due", "address", address, "amount", amount, "payout", payout)
		},
	})

	confirm := service.NewConfirmer(cfg.AdminJWTSecret)
	if !confirm.Enabled() {
		logger.Warn("ADMIN_JWT_SECRET not set; reconcile and reset are disabled")
	}
	admin := service.NewAdminService(store, fallback, confirm, cfg.RepoTimeout)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	httpServer.RegisterRoutes(r,
		handlers.NewHandler(coord, admin),
		handlers.NewHealthHandler(store, fallback, cfg.StoreBackend, cfg.Version),
		httpServer.RouteConfig{
			AdminAPIKey:     cfg.AdminAPIKey,
			RateLimit:       cfg.RateLimit,
			RateLimitWindow: cfg.RateLimitWindow,
			Limiter:         middleware.NewRateLimiter(redisClient),
			CORSOrigins:     cfg.CORSOrigins,
		},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if _, dirty := fallback.Len(); dirty > 0 {
		logger.Warn("exiting with unreconciled degraded writes", "count", dirty)
	}
	logger.Info("server exited")
}
