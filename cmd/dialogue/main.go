package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dialoguehq/dialogue/internal/v1/auth"
	"github.com/dialoguehq/dialogue/internal/v1/bus"
	"github.com/dialoguehq/dialogue/internal/v1/config"
	"github.com/dialoguehq/dialogue/internal/v1/dialogue"
	"github.com/dialoguehq/dialogue/internal/v1/health"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/middleware"
	"github.com/dialoguehq/dialogue/internal/v1/ratelimit"
	"github.com/dialoguehq/dialogue/internal/v1/tracing"
	"github.com/dialoguehq/dialogue/internal/v1/transport"
)

func main() {
	// Load .env file for local development. Try multiple paths to handle
	// different ways of running the app.
	envPaths := []string{".env", "../../.env", "../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("no .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("environment configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "dialogue", collectorAddr)
		if err != nil {
			logging.Warn(ctx, "failed to initialize tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	authHook, err := buildAuthHook(ctx, cfg)
	if err != nil {
		slog.Error("failed to build auth hook", "error", err)
		os.Exit(1)
	}

	var store *bus.Store
	var redisClient *redis.Client
	eventHooks := hooks.EventHooks{}
	if cfg.RedisEnabled {
		store, err = bus.NewStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("failed to connect to redis history store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		eventHooks.OnCleanup = store.OnCleanup
		eventHooks.OnLoad = store.OnLoad
		redisClient = store.Client()
	}

	d := dialogue.New(hooks.Hooks{
		Auth:  authHook,
		Event: eventHooks,
	}, cfg.HistoryRateLimitMax, cfg.HistoryRateLimitWindow)
	defer d.Close()

	allowedOrigins := splitAndTrim(cfg.AllowedOrigins)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	httpLimiter, err := ratelimit.NewHTTPLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("failed to build HTTP rate limiter", "error", err)
		os.Exit(1)
	}

	wsHandler := transport.NewHandler(d, allowedOrigins)
	healthHandler := health.NewHandler(store)

	if cfg.DevelopmentMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("dialogue"))
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(httpLimiter.Global())

	router.GET("/ws", wsHandler.ServeWs)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("dialogue server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server exiting")
}

// buildAuthHook returns the JWKS-backed auth hook, unless SkipAuth is set,
// in which case it falls back to a development-only hook that trusts
// whatever "sub" claim a token carries without verifying its signature.
func buildAuthHook(ctx context.Context, cfg *config.Config) (hooks.AuthHook, error) {
	if cfg.SkipAuth {
		slog.Warn("authentication DISABLED for development - do not use in production")
		return auth.MockHook(), nil
	}
	validator, err := auth.NewValidator(ctx, cfg.JWKSDomain, cfg.JWKSAudience)
	if err != nil {
		return nil, err
	}
	slog.Info("auth validator initialized", "domain", cfg.JWKSDomain, "audience", cfg.JWKSAudience)
	return validator.Hook(), nil
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
