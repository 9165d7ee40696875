package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/config"
	"github.com/endwaste/db-of-objects/internal/crop"
	"github.com/endwaste/db-of-objects/internal/database"
	"github.com/endwaste/db-of-objects/internal/embedding"
	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/handlers"
	"github.com/endwaste/db-of-objects/internal/labelstore"
	"github.com/endwaste/db-of-objects/internal/match"
	"github.com/endwaste/db-of-objects/internal/middleware"
	"github.com/endwaste/db-of-objects/internal/queue"
	"github.com/endwaste/db-of-objects/internal/storage"
	"github.com/endwaste/db-of-objects/internal/telemetry"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting object database service")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx := context.Background()
	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	if err := database.Migrate(ctx, database.Pool(), cfg.Embedding.Dim); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	objectStore, err := buildStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize object storage")
	}

	boxPolicy, err := geometry.ParsePolicy(cfg.Labeling.BoxPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid box policy")
	}

	embedder := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	index := vectorindex.NewPGIndex(database.Pool(), cfg.Embedding.Dim)
	store := labelstore.NewPGStore(database.Pool())
	coord := queue.NewCoordinator(store, *logger)
	crops := crop.NewMaterializer(objectStore, cfg.Storage.CropPrefix, boxPolicy, cfg.Labeling.MaxCropEdge, *logger)
	matcher := match.NewMatcher(embedder, index, objectStore, *logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	labeling := handlers.NewLabelingHandler(coord, crops, matcher, index, objectStore, boxPolicy, cfg.Storage.PresignExpiry, metrics, *logger)
	objects := handlers.NewObjectsHandler(matcher, index, objectStore, *logger)
	summary := handlers.NewSummaryHandler(store, index, *logger)

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(metrics.Middleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	limiter := middleware.NewIPRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
	})

	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyMiddleware())
	api.Use(limiter.Middleware())
	{
		lab := api.Group("/labeling")
		{
			lab.GET("/list", labeling.List)
			lab.POST("/similarity", labeling.Similarity)
			lab.PUT("/update", labeling.Update)
			lab.PUT("/update_embedding", labeling.UpdateEmbedding)
		}

		api.POST("/objects", objects.Add)
		api.DELETE("/objects/:id", objects.Delete)
		api.GET("/summary", summary.Get)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}

func buildStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch storage.StorageType(cfg.Type) {
	case storage.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.BasePath)
	case storage.StorageTypeS3:
		return storage.NewS3Storage(ctx, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "db-of-objects").Logger()
	return &logger
}
