// Package app wires infrastructure clients, domain components, and HTTP
// routes together, and dispatches to the api or reaper run mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wiggzz/diogenes/internal/config"
	"github.com/wiggzz/diogenes/internal/events"
	"github.com/wiggzz/diogenes/internal/httpserver"
	"github.com/wiggzz/diogenes/internal/notify"
	"github.com/wiggzz/diogenes/internal/platform"
	"github.com/wiggzz/diogenes/internal/telemetry"
	"github.com/wiggzz/diogenes/pkg/apikey"
	"github.com/wiggzz/diogenes/pkg/cluster"
	"github.com/wiggzz/diogenes/pkg/compute"
	"github.com/wiggzz/diogenes/pkg/orchestrator"
	"github.com/wiggzz/diogenes/pkg/router"
	"github.com/wiggzz/diogenes/pkg/statestore"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode selected by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	logger.Info("starting diogenes", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	store := statestore.NewRedisStore(rdb)

	// Postgres-backed events log is optional. When unconfigured every call
	// site nil-checks eventsWriter and simply skips recording.
	var eventsWriter *events.Writer
	if cfg.DatabaseURL != "" {
		pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		if err := platform.RunEventsMigrations(cfg.DatabaseURL, cfg.EventsMigrationsDir); err != nil {
			return fmt.Errorf("running events migrations: %w", err)
		}
		logger.Info("events migrations applied")

		eventsWriter = events.NewWriter(pool, logger)
		eventsWriter.Start(ctx)
		defer eventsWriter.Close()
	} else {
		logger.Info("events log disabled (DATABASE_URL not set)")
	}

	notifier := notify.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("slack notifications enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack notifications disabled (SLACK_BOT_TOKEN or SLACK_ALERT_CHANNEL not set)")
	}

	backend, err := newComputeBackend(cfg)
	if err != nil {
		return err
	}

	orch := orchestrator.New(store, backend, logger,
		orchestrator.WithWorkerPort(cfg.WorkerPort),
		orchestrator.WithHealthPoll(
			time.Duration(cfg.HealthPollTimeout)*time.Second,
			time.Duration(cfg.HealthPollInterval)*time.Second,
			time.Duration(cfg.HealthProbeTimeout)*time.Second,
		),
	)

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, store, rdb, metricsReg, orch, eventsWriter, notifier)
	case "reaper":
		return runReaper(ctx, cfg, logger, orch, eventsWriter, notifier)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func newComputeBackend(cfg *config.Config) (compute.Backend, error) {
	switch cfg.ComputeBackend {
	case "mock":
		return compute.NewMockBackend(), nil
	case "http":
		if cfg.ComputeBaseURL == "" {
			return nil, fmt.Errorf("COMPUTE_BASE_URL is required when COMPUTE_BACKEND=http")
		}
		return compute.NewHTTPBackend(cfg.ComputeBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown compute backend: %s", cfg.ComputeBackend)
	}
}

// triggerScaleUp returns a router.TriggerFunc that fires a detached
// goroutine calling ScaleUp. Concurrent triggers for the same model are
// deduplicated by ScaleUp's own PutInstanceIfAbsent claim, not here.
func triggerScaleUp(orch *orchestrator.Orchestrator, logger *slog.Logger, eventsWriter *events.Writer, notifier *notify.Notifier) router.TriggerFunc {
	return func(model string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()

			inst, err := orch.ScaleUp(ctx, model)
			if err != nil {
				logger.Error("scale-up failed", "model", model, "error", err)
				if eventsWriter != nil {
					eventsWriter.Log(events.Entry{Action: "scale_up_failed", Resource: "model", ResourceID: model})
				}
				notifier.ColdStartFailed(ctx, model, err.Error())
				return
			}

			switch inst.Status {
			case statestore.StatusReady:
				if eventsWriter != nil {
					eventsWriter.Log(events.Entry{Action: "scale_up_ready", Resource: "model", ResourceID: model})
				}
				notifier.ColdStartReady(ctx, model)
			case statestore.StatusTerminated:
				if eventsWriter != nil {
					eventsWriter.Log(events.Entry{Action: "scale_up_failed", Resource: "model", ResourceID: model})
				}
				notifier.ColdStartFailed(ctx, model, "health check failed")
			default:
				if eventsWriter != nil {
					eventsWriter.Log(events.Entry{Action: "scale_up_claimed", Resource: "model", ResourceID: model})
				}
			}
		}()
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	store statestore.Store,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	orch *orchestrator.Orchestrator,
	eventsWriter *events.Writer,
	notifier *notify.Notifier,
) error {
	trigger := triggerScaleUp(orch, logger, eventsWriter, notifier)

	rtr := router.New(store, trigger, logger,
		router.WithWorkerPort(cfg.WorkerPort),
		router.WithProxyTimeout(time.Duration(cfg.ProxyTimeoutSeconds)*time.Second),
	)
	clus := cluster.New(store, trigger, orch)
	keys := apikey.NewService(store, logger)

	srv := httpserver.NewServer(cfg, logger, store, rdb, metricsReg)

	srv.APIRouter.Mount("/v1", router.NewHandler(rtr, logger).Routes())
	srv.APIRouter.Mount("/api/keys", apikey.NewHandler(logger, eventsWriter, keys).Routes())
	srv.APIRouter.Mount("/api/cluster", cluster.NewHandler(clus, logger).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(cfg.ProxyTimeoutSeconds+10) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runReaper(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	orch *orchestrator.Orchestrator,
	eventsWriter *events.Writer,
	notifier *notify.Notifier,
) error {
	logger.Info("reaper started", "interval_seconds", cfg.ReapInterval)

	reaper := orchestrator.NewReaper(orch, logger, time.Duration(cfg.ReapInterval)*time.Second,
		orchestrator.WithOnReap(func(reaped []string) {
			for _, instanceID := range reaped {
				if eventsWriter != nil {
					eventsWriter.Log(events.Entry{Action: "scale_down_reaped", Resource: "instance", ResourceID: instanceID})
				}
				model := strings.TrimPrefix(instanceID, "model#")
				notifier.Reaped(ctx, model, instanceID)
			}
		}),
	)
	reaper.Run(ctx)
	return nil
}
