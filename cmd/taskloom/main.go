package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tlhttp "github.com/Strob0t/TaskLoom/internal/adapter/http"
	"github.com/Strob0t/TaskLoom/internal/adapter/litellm"
	"github.com/Strob0t/TaskLoom/internal/adapter/mcp"
	tlnats "github.com/Strob0t/TaskLoom/internal/adapter/nats"
	"github.com/Strob0t/TaskLoom/internal/adapter/otel"
	"github.com/Strob0t/TaskLoom/internal/adapter/postgres"
	"github.com/Strob0t/TaskLoom/internal/adapter/ristretto"
	"github.com/Strob0t/TaskLoom/internal/adapter/tools"
	"github.com/Strob0t/TaskLoom/internal/adapter/workspace"
	"github.com/Strob0t/TaskLoom/internal/adapter/ws"
	"github.com/Strob0t/TaskLoom/internal/config"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/logger"
	"github.com/Strob0t/TaskLoom/internal/resilience"
	"github.com/Strob0t/TaskLoom/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workspace", cfg.Workspace.Root,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Process coordination ---

	addr := "localhost:" + cfg.Server.Port
	lockPath := cfg.Workspace.LockFile
	if !filepath.IsAbs(lockPath) {
		lockPath = filepath.Join(cfg.Workspace.Root, lockPath)
	}
	coordinator := service.NewCoordinator(lockPath, addr, log)
	role, master, err := coordinator.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("coordination: %w", err)
	}
	if role == service.RoleClient {
		slog.Info("another process owns this workspace; use its API",
			"addr", master.Addr, "pid", master.PID)
		return nil
	}
	defer func() {
		if err := coordinator.Release(); err != nil {
			slog.Error("release master lock", "error", err)
		}
	}()

	// --- Telemetry ---

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sdCtx); err != nil {
				slog.Error("telemetry shutdown", "error", err)
			}
		}()
	}
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Storage ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	eventStore := postgres.NewEventStore(pool)
	projectionStore := postgres.NewProjectionStore(pool)
	auditLog := postgres.NewAuditLog(pool)
	snapshotStore := postgres.NewSnapshotStore(pool)

	cache, err := ristretto.New(cfg.Cache.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("event cache: %w", err)
	}
	defer cache.Close()

	// --- Event log and kernel services ---

	validator, err := event.NewValidator()
	if err != nil {
		return fmt.Errorf("payload schemas: %w", err)
	}

	eventLog := service.NewEventLogService(eventStore, validator)
	eventLog.SetCache(cache)
	eventLog.SetMetrics(metrics)

	projections := service.NewProjectionService(eventLog, projectionStore)
	taskSvc := service.NewTaskService(eventLog, projections, log)
	interactionSvc := service.NewInteractionService(eventLog, taskSvc, log,
		cfg.Runtime.ResponsePoll, cfg.Runtime.ResponseTimeout)
	interactionSvc.SetMetrics(metrics)

	files, err := workspace.NewStore(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	artifactSvc := service.NewArtifactService(eventLog, taskSvc, files, log)

	driftSvc := service.NewDriftService(eventLog, projectionStore, log)
	driftSvc.SetMetrics(metrics)

	registry := tools.NewRegistry()
	tools.RegisterWorkspaceTools(registry, files, artifactSvc)

	gate := service.NewToolGateService(registry, auditLog, log)
	gate.SetMetrics(metrics)

	llmClient := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	hub := ws.NewHub(log)
	counter := service.NewTokenCounter(cfg.Runtime.TokenEncoding)

	runtimeSvc := service.NewRuntimeService(
		taskSvc, interactionSvc, gate, snapshotStore, llmClient, registry, hub, counter, log,
		service.RuntimeConfig{
			MaxIterations:    cfg.Runtime.MaxIterations,
			MaxTokens:        cfg.Runtime.MaxTokens,
			Profile:          cfg.Runtime.DefaultProfile,
			WorkspaceConsent: cfg.Runtime.WorkspaceConsent,
		})

	// --- Background workers ---

	scheduler := service.NewScheduler(eventLog, runtimeSvc, driftSvc, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	watcher := workspace.NewWatcher(files, artifactSvc, cfg.Workspace.WatchDebounce, log)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer watcher.Stop()

	hub.MirrorLog(ctx, eventLog)

	if cfg.NATS.URL != "" {
		queue, err := tlnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()

		relay := tlnats.NewRelay(eventLog, queue, log)
		relay.Start(ctx)
		defer relay.Stop()
	}

	// --- HTTP ---

	handlers := &tlhttp.Handlers{
		Tasks:        taskSvc,
		Interactions: interactionSvc,
		Artifacts:    artifactSvc,
		Runtime:      runtimeSvc,
		Gate:         gate,
		Log:          eventLog,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(tlhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tlhttp.RequestLogger(log))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(pool.Ping))
	r.Get("/ws", hub.HandleWS)

	mcpServer := mcp.NewServer(taskSvc, gate, log)
	r.Mount("/mcp", mcpServer.Handler())

	tlhttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mcpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("mcp shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports liveness plus storage reachability. The coordinator
// of other processes probes this endpoint to decide whether the master is
// alive, so it must stay cheap.
func healthHandler(ping func(context.Context) error) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok"}
		code := http.StatusOK
		if err := ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
