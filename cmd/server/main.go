package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/quindar/refdata-api/internal/auth"
	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/config"
	"github.com/quindar/refdata-api/internal/database"
	"github.com/quindar/refdata-api/internal/metadata"
	"github.com/quindar/refdata-api/internal/metrics"
	"github.com/quindar/refdata-api/internal/notify"
	"github.com/quindar/refdata-api/internal/schema"
	"github.com/quindar/refdata-api/internal/search"
	"github.com/quindar/refdata-api/internal/series"
	"github.com/quindar/refdata-api/pkg/middleware"
	"github.com/quindar/refdata-api/pkg/response"

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

// main initializes and runs the reference-data API server with graceful
// shutdown support. It wires the relational and time-series stores, the
// change-notification fan-out and the search index before serving.
func main() {
	cfg := config.Load()
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := schema.Builtin()

	// Initialize metadata database
	db, err := database.NewDatabase(cfg.DBDriver, cfg.DBDSN, registry)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	relational := backend.NewRelational(db)

	// Initialize time-series store
	seriesStore, err := backend.NewTimeSeries(cfg.SeriesPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize time-series store")
	}
	defer seriesStore.Close()

	backends := backend.NewRouter(relational, seriesStore)

	m := metrics.NewMetrics()

	// Change notification fan-out
	dispatcher := notify.NewDispatcher(m, notify.LogListener{})
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			zlog.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to redis")
		}
		pingCancel()
		dispatcher.Register(notify.NewRedisPublisher(rdb))
		zlog.Info().Str("addr", cfg.RedisAddr).Msg("Publishing changes to redis")
	}

	// Initialize services and handlers
	metadataService := metadata.NewService(backends.Metadata(), registry, dispatcher, m)
	metadataHandlers := metadata.NewGinHandlers(metadataService)

	seriesService := series.NewService(backends, m)
	seriesHandlers := series.NewGinHandlers(seriesService)

	searchService, err := search.NewService(m)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize search index")
	}
	defer searchService.Close()
	searchHandlers := search.NewGinHandlers(searchService)

	// The indexer follows committed changes; the initial rebuild covers
	// whatever the store already holds
	indexer := search.NewIndexer(searchService, metadataService, registry.Types())
	dispatcher.Register(indexer)

	indexerCtx, indexerCancel := context.WithCancel(context.Background())
	defer indexerCancel()

	if err := indexer.Rebuild(indexerCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to rebuild search index")
	}
	go indexer.Start(indexerCtx)

	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret, auth.AllScopes...)

	// Initialize router
	router := gin.Default()

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authService, authHandlers, metadataHandlers, seriesHandlers, searchHandlers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := relational.Healthy(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "metadata store unavailable")
			return
		}
		if err := seriesStore.Healthy(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "series store unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
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

// setupRoutes configures all API endpoints and their handlers.
// Queries require the read scope; reference-data mutations and series
// ingestion are gated behind their own write scopes.
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	metadataHandlers *metadata.GinHandlers,
	seriesHandlers *series.GinHandlers,
	searchHandlers *search.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Instrument metadata routes
		instruments := v1.Group("/instruments")
		instruments.Use(middleware.JWTAuth(authService))
		{
			read := instruments.Group("")
			read.Use(middleware.RequireScope(auth.ScopeRead))
			{
				read.GET("", metadataHandlers.ListInstrumentsHandler())
				read.GET("/search", searchHandlers.SearchHandler())
				read.GET("/distinct", metadataHandlers.DistinctValuesHandler())
				read.GET("/:symbol/:exchange", metadataHandlers.GetInstrumentHandler())
				read.GET("/:symbol/:exchange/changes", metadataHandlers.GetChangesHandler())
				read.GET("/:symbol/:exchange/conversion-prices", metadataHandlers.GetConversionPricesHandler())
			}

			write := instruments.Group("")
			write.Use(middleware.RequireScope(auth.ScopeMetadataWrite))
			{
				write.POST("", metadataHandlers.RegisterHandler())
				write.POST("/batch", metadataHandlers.RegisterBatchHandler())
				write.PATCH("/:symbol/:exchange", metadataHandlers.UpdateInstrumentHandler())
				write.POST("/:symbol/:exchange/delist", metadataHandlers.DelistInstrumentHandler())
				write.DELETE("/:symbol/:exchange", metadataHandlers.DeleteInstrumentHandler())
				write.POST("/:symbol/:exchange/conversion-prices", metadataHandlers.ReviseConversionPriceHandler())
			}
		}

		// Time-series routes
		seriesGroup := v1.Group("/series")
		seriesGroup.Use(middleware.JWTAuth(authService))
		{
			seriesGroup.GET("/:symbol/:exchange",
				middleware.RequireScope(auth.ScopeRead), seriesHandlers.ReadObservationsHandler())
			seriesGroup.POST("/:symbol/:exchange",
				middleware.RequireScope(auth.ScopeSeriesWrite), seriesHandlers.WriteObservationsHandler())
			seriesGroup.DELETE("/:symbol/:exchange",
				middleware.RequireScope(auth.ScopeSeriesWrite), seriesHandlers.DropObservationsHandler())
		}
	}
}
