package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/coffee-collateral-api/internal/auth"
	"github.com/ksred/coffee-collateral-api/internal/ccr"
	"github.com/ksred/coffee-collateral-api/internal/database"
	"github.com/ksred/coffee-collateral-api/internal/fx"
	"github.com/ksred/coffee-collateral-api/internal/ledger"
	"github.com/ksred/coffee-collateral-api/internal/marketdata"
	"github.com/ksred/coffee-collateral-api/internal/scheduler"
	"github.com/ksred/coffee-collateral-api/internal/scraper"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/ksred/coffee-collateral-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// main initializes and runs the collateral API server with graceful shutdown
// support. It wires the scrape pipeline, the valuation services, and the
// coverage recalculation behind the API routes and the cron schedule.
func main() {
	startedAt := time.Now()

	// Initialize database
	db, err := database.NewDatabase(envOr("DATABASE_PATH", "coffee.db"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	jwtSecret := envOr("JWT_SECRET", "coffee-secret-key")
	authService := auth.NewService(jwtSecret, os.Getenv("API_KEY"), os.Getenv("API_SECRET"))
	authHandlers := auth.NewGinHandlers(authService)

	fxResolver := fx.NewResolver(os.Getenv("FX_ENDPOINT"))

	marketService := marketdata.NewService(db, fxResolver)
	marketHandlers := marketdata.NewGinHandlers(marketService)

	ledgerClient := ledger.NewClient(
		os.Getenv("LEDGER_RPC_URL"),
		os.Getenv("CROWDFUNDING_CONTRACT"),
	)

	coverageService := ccr.NewService(db, marketService.GetDB(), ledgerClient)
	coverageHandlers := ccr.NewGinHandlers(coverageService)

	extractor := scraper.NewExtractor(os.Getenv("CHROMIUM_PATH"))
	runner := scheduler.NewRunner(extractor, marketService, coverageService)
	runnerHandlers := scheduler.NewGinHandlers(runner)

	cronConfig := scheduler.Config{
		Schedule: envOr("CRON_SCHEDULE", "0 13 * * *"),
		Timezone: envOr("CRON_TIMEZONE", "Asia/Jakarta"),
		Enabled:  envOr("CRON_ENABLED", "true") == "true",
	}
	cronScheduler, err := scheduler.NewScheduler(runner, cronConfig)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, jwtSecret, authHandlers, marketHandlers, coverageHandlers, runnerHandlers)

	// Health endpoint surfaces schedule state for the operations host
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"uptime":        time.Since(startedAt).String(),
			"cronSchedule":  cronConfig.Schedule,
			"cronTimezone":  cronConfig.Timezone,
			"cronEnabled":   cronConfig.Enabled,
			"cronIsRunning": runner.IsRunning(),
		})
	})

	// Get port from env otherwise it's 8080
	port := envOr("PORT", "8080")

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Scrape routes: Trigger endpoints, protected by JWT plus the scrape permission
// - Query routes: Market data and coverage reads, protected by JWT
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	marketHandlers *marketdata.GinHandlers,
	coverageHandlers *ccr.GinHandlers,
	runnerHandlers *scheduler.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Scrape trigger routes
		triggers := v1.Group("")
		triggers.Use(middleware.JWTAuth(jwtSecret), middleware.RequirePermission(auth.PermissionScrape))
		{
			triggers.POST("/cron", runnerHandlers.RunAllHandler())
			triggers.POST("/scrape/kc", runnerHandlers.ScrapeHandler(types.CommodityArabica))
			triggers.POST("/scrape/rm", runnerHandlers.ScrapeHandler(types.CommodityRobusta))
		}

		// Query routes
		queries := v1.Group("")
		queries.Use(middleware.JWTAuth(jwtSecret), middleware.RequirePermission(auth.PermissionRead))
		{
			queries.GET("/market-data/:commodity/latest", marketHandlers.LatestHandler())
			queries.GET("/ccr/platform", coverageHandlers.PlatformHandler())
			queries.POST("/ccr/:scope_kind/:scope_id/recalculate", coverageHandlers.RecalculateHandler())
		}
	}
}
