// VoxGuard detects call masking: bursts of distinct callers to one
// destination number, the traffic pattern of SIM boxes and CLI spoofing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/abiolaogu/VoxGuard-sub001/internal/api"
	"github.com/abiolaogu/VoxGuard-sub001/internal/bus"
	"github.com/abiolaogu/VoxGuard-sub001/internal/cache"
	"github.com/abiolaogu/VoxGuard-sub001/internal/config"
	"github.com/abiolaogu/VoxGuard-sub001/internal/detection"
	"github.com/abiolaogu/VoxGuard-sub001/internal/inference"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/repository"
	"github.com/abiolaogu/VoxGuard-sub001/internal/supervisor"
	"github.com/abiolaogu/VoxGuard-sub001/internal/supervisor/services"
	"github.com/abiolaogu/VoxGuard-sub001/internal/timeseries"
	"github.com/abiolaogu/VoxGuard-sub001/internal/tracing"
	"github.com/abiolaogu/VoxGuard-sub001/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("voxguard exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stdout,
	})

	logging.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("profile", cfg.Profile).
		Msg("Starting voxguard")

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logging.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	logging.Info().Str("driver", cfg.Repository.Driver).Msg("Repository initialized")

	window, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize detection window: %w", err)
	}
	defer window.Close()
	logging.Info().Str("type", cfg.Cache.Type).Msg("Detection window initialized")

	ts, err := timeseries.New(cfg.TimeSeries, time.Duration(cfg.Detection.ShortCallSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to initialize time-series store: %w", err)
	}
	if ts != nil {
		defer ts.Close()
	}

	var nc *nats.Conn
	if cfg.EventBus.NATS.Enabled {
		nc, err = bus.ConnectNATS(cfg.EventBus.NATS)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		logging.Info().Str("url", cfg.EventBus.NATS.URL).Msg("NATS connected")
	}

	eventBus, err := bus.New(cfg.EventBus, nc, cfg.Inference.Breaker)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer eventBus.Close()
	logging.Info().
		Bool("nats", cfg.EventBus.NATS.Enabled).
		Bool("kafka", cfg.EventBus.Kafka.Enabled).
		Msg("Event bus initialized")

	engine, err := inference.NewEngine(cfg.Inference, cfg.Detection.CallerThreshold, cfg.Detection.ProbabilityThreshold)
	if err != nil {
		return fmt.Errorf("failed to initialize inference engine: %w", err)
	}
	logging.Info().
		Str("strategy", cfg.Inference.Strategy).
		Float64("threshold", engine.Threshold()).
		Msg("Inference engine initialized")

	opts, err := detection.OptionsFromConfig(cfg.Detection, cfg.Inference.Breaker)
	if err != nil {
		return err
	}
	detector, err := detection.NewService(detection.Deps{
		Calls:      repo,
		Alerts:     repo,
		Blacklist:  repo,
		Window:     window,
		Predictor:  engine,
		Bus:        eventBus,
		TimeSeries: ts,
	}, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize detection service: %w", err)
	}
	alerts := detection.NewAlertService(repo, eventBus, detector.Cooldown(), time.Now)
	blacklist := detection.NewBlacklistService(repo, eventBus, time.Now)

	pool := worker.NewPool(detector, worker.Config{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	})

	handler := api.NewHandler(pool, alerts, blacklist, engine, Version,
		api.HealthCheck{Name: "repository", Pinger: repo},
		api.HealthCheck{Name: "window", Pinger: window},
		api.HealthCheck{Name: "eventbus", Pinger: eventBus},
	)
	server := api.NewServer(cfg.Server, handler)

	tree := supervisor.NewTree(logging.NewSlog(), supervisor.TreeConfigFrom(cfg.Supervisor))

	tree.AddMaintenance(services.NewBlacklistCleanup(blacklist, cfg.Supervisor.CleanupInterval))
	var compactable services.WindowCompactor
	if c, ok := window.(cache.Compactor); ok {
		compactable = c
	}
	tree.AddMaintenance(services.NewCompactor(compactable, detector.Cooldown(), cfg.Cache.IdleTTL, cfg.Supervisor.CompactInterval, time.Now))

	tree.AddIngest(pool)
	if cfg.Ingest.UDPAddr != "" {
		tree.AddIngest(services.NewUDPListener(cfg.Ingest.UDPAddr, pool))
	}
	if cfg.Ingest.NATSSubject != "" && nc != nil {
		tree.AddIngest(services.NewNATSIngest(nc, cfg.Ingest.NATSSubject, pool))
	}

	tree.AddAPI(services.NewHTTPService(server.HTTPServer(), cfg.Supervisor.ShutdownTimeout))

	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("udp", cfg.Ingest.UDPAddr).
		Str("nats_subject", cfg.Ingest.NATSSubject).
		Int("workers", pool.Stats().Workers).
		Msg("voxguard is ready")

	err = tree.Serve(ctx)
	logging.Info().Msg("Shutting down")

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	logging.Info().Msg("voxguard shutdown complete")
	return nil
}
