// README: Entry point; loads config, wires stores, feed and sinks, starts the HTTP server and the load reporter.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"dispatch/internal/config"
	"dispatch/internal/feed"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/logging"
	"dispatch/internal/maps"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/job"
	"dispatch/internal/modules/matching"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dispatch api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		jobStore    job.Repository
		driverStore driver.Repository
	)
	if cfg.DB.DSN != "" {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer dbPool.Close()
		if cfg.DB.AutoMigrate {
			if err := infra.ApplyMigrations(ctx, dbPool, cfg.DB.MigrationsDir); err != nil {
				return err
			}
			logger.Info("migrations applied", "dir", cfg.DB.MigrationsDir)
		}
		jobStore = job.NewStore(dbPool)
		driverStore = driver.NewStore(dbPool)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		jobStore = job.NewMemoryStore()
		driverStore = driver.NewMemoryStore()
	}

	var (
		broker    feed.Broker = feed.NewMemoryBroker()
		positions *matching.Store
		sinks     []tracking.Sink
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		broker = feed.NewRedisBroker(redisClient)
		positions = matching.NewStore(redisClient)
		sinks = append(sinks, positions)
	}
	if cfg.Firebase.DatabaseURL != "" {
		rtdb, err := infra.NewFirebaseDB(ctx, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, tracking.NewFirebaseSink(rtdb))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := tracking.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	var route pricing.RouteDistancer
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		route = routeSvc
	}

	jobSvc := job.NewService(jobStore, broker, logger.With("module", "job"))
	driverSvc := driver.NewService(driverStore)

	var positionIndex matching.PositionIndex
	deps := httptransport.ServerDeps{}
	if positions != nil {
		positionIndex = positions
		deps.Positions = positions
	}
	matchingSvc := matching.NewService(jobStore, driverStore, positionIndex, jobSvc, cfg.Matching, logger.With("module", "matching"))
	pricingEngine := pricing.NewEngine(cfg.Pricing, matchingSvc, route, logger.With("module", "pricing"))

	provider := tracking.NewFeedProvider()
	trackingSvc := tracking.NewService(provider, driverStore, broker, cfg.Tracking, logger.With("module", "tracking"), sinks...)
	defer trackingSvc.StopAll()

	deps.Jobs = jobSvc
	deps.Drivers = driverSvc
	deps.Matching = matchingSvc
	deps.Pricing = pricingEngine
	deps.Tracking = trackingSvc
	deps.Provider = provider
	deps.Logger = logger
	deps.RateLimitRPS = cfg.HTTP.RateLimitRPS
	deps.RateLimitBurst = cfg.HTTP.RateLimitBurst

	go matchingSvc.RunLoadReporter(ctx)

	server := httptransport.NewServer(cfg.HTTP.Addr, deps)
	return server.Run(ctx, cfg.HTTP.ShutdownTimeout)
}
