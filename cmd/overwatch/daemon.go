package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/Overwatch/internal/adapter/execagent"
	owhttp "github.com/Strob0t/Overwatch/internal/adapter/http"
	ownats "github.com/Strob0t/Overwatch/internal/adapter/nats"
	"github.com/Strob0t/Overwatch/internal/adapter/otel"
	"github.com/Strob0t/Overwatch/internal/adapter/sqlite"
	"github.com/Strob0t/Overwatch/internal/adapter/ws"
	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/middleware"
	"github.com/Strob0t/Overwatch/internal/resilience"
	"github.com/Strob0t/Overwatch/internal/service"
	"github.com/Strob0t/Overwatch/internal/workpool"
)

const (
	shutdownTimeout = 30 * time.Second
	pruneInterval   = time.Minute
	pruneIdle       = 10 * time.Minute
)

func runDaemon(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"project_root", cfg.Project.Root,
		"state_dir", cfg.StatePath(),
		"agents", len(cfg.Agents),
		"server", cfg.Server.Enabled,
		"nats", cfg.NATS.Enabled,
	)

	// --- Telemetry ---

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	// --- Infrastructure ---

	store, err := sqlite.OpenEventLog(ctx, cfg.EventLogPath())
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	eventLog := service.NewEventLog(store,
		workpool.New(cfg.EventLog.StorageWorkers),
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
	)
	defer func() { _ = eventLog.Close() }()
	slog.Info("event log opened", "path", cfg.EventLogPath())

	bus := service.NewEventBus(cfg.Bus, eventLog)
	hub := ws.NewHub()

	contextStore, err := service.OpenContextStore(cfg.ContextPath())
	if err != nil {
		return fmt.Errorf("context store: %w", err)
	}
	contextStore.SetBroadcaster(hub)

	// --- Background services ---

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer func() {
		cancelRun()
		wg.Wait()
		bus.Close()
	}()

	consumer := service.NewFindingsConsumer(bus, contextStore, cfg.Runner.PollTimeout)
	if cfg.Context.TrackUserContext {
		tracker := service.NewContextTracker(bus, cfg.Runner.PollTimeout)
		consumer.SetTracker(tracker)
		wg.Go(func() { tracker.Run(runCtx) })
	}
	wg.Go(func() { consumer.Run(runCtx) })

	retention := service.NewRetentionTask(eventLog, cfg.EventLog.RetentionDays, cfg.EventLog.CleanupInterval)
	wg.Go(func() { retention.Run(runCtx) })

	wg.Go(func() { service.NewBroadcastForwarder(bus, hub).Run(runCtx) })

	var queue *ownats.Queue
	if cfg.NATS.Enabled {
		queue, err = ownats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		fwd := service.NewQueueForwarder(bus, queue, cfg.NATS.SubjectPrefix)
		wg.Go(func() {
			fwd.Run(runCtx)
			if err := queue.Close(); err != nil {
				slog.Warn("nats close", "error", err)
			}
		})
	}

	// --- Agents ---

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	monitor := service.NewPerformanceMonitor(metrics)
	manager := service.NewManager(bus, eventLog, cfg.Runner)
	manager.SetMonitor(monitor)
	for _, ac := range cfg.Agents {
		if _, err := manager.Register(otel.Trace(execagent.New(ac, cfg.Project.Root))); err != nil {
			return err
		}
	}
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start agents: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.StopAll(sctx); err != nil {
			slog.Error("stop agents", "error", err)
		}
	}()
	wg.Go(func() { manager.WatchLiveness(runCtx, 0) })

	// --- HTTP ---

	if cfg.Server.Enabled {
		srv, err := newServer(runCtx, cfg, queue, &owhttp.Handlers{
			Bus:      bus,
			EventLog: eventLog,
			Context:  contextStore,
			Agents:   manager,
			Monitor:  monitor,
			Hub:      hub,
		}, &wg)
		if err != nil {
			return err
		}
		go func() {
			slog.Info("starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server failed", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			hub.Close()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Error("server shutdown", "error", err)
			}
		}()
	}

	slog.Info("overwatch running", "version", version)
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// newServer builds the HTTP server. The handlers' Reader is filled in here
// because it owns the read cache.
func newServer(runCtx context.Context, cfg *config.Config, queue *ownats.Queue, h *owhttp.Handlers, wg *sync.WaitGroup) (*http.Server, error) {
	c, release, err := newReadCache(runCtx, cfg.Cache, queue)
	if err != nil {
		return nil, err
	}
	h.Reader = service.NewContextReader(cfg.ContextPath(), c, cfg.Cache.TTL)

	ingest := middleware.NewRateLimiter(cfg.Server.IngestRate, cfg.Server.IngestBurst, nil)
	wg.Go(func() {
		ingest.RunPruner(runCtx, pruneInterval, pruneIdle)
		release()
	})

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(owhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(owhttp.SecurityHeaders)
	r.Use(owhttp.CORS(cfg.Server.CORSOrigin))
	owhttp.MountRoutes(r, h, ingest)

	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}
