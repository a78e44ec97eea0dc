// Command api runs the security engine HTTP server and, when configured,
// the scheduled detection sweeps.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/api/rest"
	apiws "github.com/novahr/security-engine/internal/api/websocket"
	"github.com/novahr/security-engine/internal/infrastructure/cache"
	"github.com/novahr/security-engine/internal/infrastructure/config"
	"github.com/novahr/security-engine/internal/infrastructure/database"
	"github.com/novahr/security-engine/internal/infrastructure/repository"
	"github.com/novahr/security-engine/internal/metrics"
	"github.com/novahr/security-engine/internal/service/alerting"
	"github.com/novahr/security-engine/internal/service/correlation"
	"github.com/novahr/security-engine/internal/service/detection"
	"github.com/novahr/security-engine/internal/service/stats"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == "development" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	registry := metrics.NewRegistry()

	// Repositories
	anomalyRepo := repository.NewAnomalyRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	runRepo := repository.NewRunRepository(db)
	eventFeed := repository.NewAuditEventFeed(db)
	tenants := repository.NewTenantSource(db, 24*time.Hour)

	// Alerting, with the websocket feed and log sink as notifiers.
	hub := apiws.NewHub(logger)
	defer hub.Close()
	alertManager := alerting.NewManager(alertRepo,
		cache.NewAlertThrottle(redisClient),
		cfg.Alerting.Cooldown,
		logger,
		alerting.NewLogNotifier(logger), hub).
		WithInstruments(registry)

	// Detection pipeline
	detector := detection.NewDetector(eventFeed, anomalyRepo,
		alerting.Creator{Manager: alertManager},
		detection.DefaultRegistry(),
		cfg.Detection.Thresholds,
		logger).
		WithInstruments(registry)
	coordinator := detection.NewCoordinator(detector, runRepo,
		cache.NewRunReservations(redisClient), logger)
	anomalyWorkflow := detection.NewAnomalyWorkflow(anomalyRepo, logger)

	correlationEngine := correlation.NewEngine(eventFeed, logger)
	aggregator := stats.NewAggregator(anomalyRepo, alertRepo)

	handler := rest.NewHandler(rest.Deps{
		Anomalies:   anomalyWorkflow,
		Coordinator: coordinator,
		Alerts:      alertManager,
		Correlation: correlationEngine,
		Stats:       aggregator,

		Auth:      rest.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.TokenExpiry),
		Metrics:   registry,
		Health:    rest.NewHealthChecker(db, redisClient, logger),
		AlertFeed: hub,
		Logger:    logger,

		DefaultLookbackMinutes: cfg.Detection.LookbackMinutes,
		RequestsPerSecond:      float64(cfg.Security.RateLimit.RequestsPerSecond),
		BurstSize:              cfg.Security.RateLimit.BurstSize,
	})

	server := rest.NewServer(&cfg.Server, handler.Routes(), logger)

	if cfg.Detection.SweepInterval > 0 {
		scheduler := detection.NewScheduler(coordinator, tenants,
			cfg.Detection.SweepInterval, cfg.Detection.LookbackMinutes, logger)
		go scheduler.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
