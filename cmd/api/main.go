package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	_ "go.uber.org/automaxprocs"

	"github.com/fairyhunter13/spin-wheel/internal/cache"
	"github.com/fairyhunter13/spin-wheel/internal/config"
	"github.com/fairyhunter13/spin-wheel/internal/handler"
	"github.com/fairyhunter13/spin-wheel/internal/repository"
	"github.com/fairyhunter13/spin-wheel/internal/service"
	"github.com/fairyhunter13/spin-wheel/internal/subscriber"
	"github.com/fairyhunter13/spin-wheel/internal/tracing"
	appvalidator "github.com/fairyhunter13/spin-wheel/internal/validator"
	"github.com/fairyhunter13/spin-wheel/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	location, err := cfg.Spin.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid spin timezone")
	}

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.JaegerEndpoint != "" {
		tp, err = tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize tracing")
		}
	}

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.MaxRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.DB.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to apply database schema")
		}
	}

	healthHandler := handler.NewHealthHandler(pool)

	// Wheel configuration cache is optional; without it every lookup reads PostgreSQL.
	var wheelCache service.WheelCache
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		wheelCache = cache.NewWheelCache(redisClient, cfg.Spin.CacheTTL)
		healthHandler.WithCache(handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
		log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Spin.CacheTTL).Msg("wheel cache enabled")
	}

	// Spin event subscribers
	metrics, err := subscriber.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}
	dispatcher := service.NewDispatcher(cfg.Spin.SubscriberTimeout, metrics)

	var kafkaWriter *kafka.Writer
	if cfg.Kafka.Enabled() {
		kafkaWriter = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
		dispatcher.Subscribe(subscriber.NewKafkaPublisher(kafkaWriter))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("spin events published to kafka")
	}

	// Initialize spin components (layered architecture)
	wheelRepo := repository.NewWheelRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	wheelStore := service.NewWheelStore(wheelRepo, wheelCache, cfg.Spin.StoreTimeout)
	ledger := service.NewLedger(pool, ledgerRepo, service.LedgerOptions{
		Location:     location,
		Timeout:      cfg.Spin.StoreTimeout,
		HistoryLimit: cfg.Spin.HistoryLimit,
	})
	engine := service.NewSpinEngine(wheelStore, ledger, nil, dispatcher)
	spinHandler := handler.NewSpinHandler(engine, ledger, wheelStore, appvalidator.New())

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Spin Wheel",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (explicit, prevents large payloads)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	spinHandler.Register(app.Group("/api"))

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests and their event deliveries)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Error().Err(err).Msg("error closing kafka writer")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis client")
		}
	}
	tracing.Shutdown(shutdownCtx, tp)

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
