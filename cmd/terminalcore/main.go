// Command terminalcore runs the resumable generation stream service:
// the bounded model/tool loop, the durable per-session event log and
// the SSE/WebSocket stream surface of the terminal dashboard.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	tchttp "github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/http"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/litellm"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/memlog"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/natsjs"
	tcotel "github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/otel"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/postgres"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/ristretto"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/tools"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/ws"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/config"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/logger"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/middleware"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/eventlog"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/lease"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/resilience"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/service"
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

	log, closeLogger := logger.New(cfg.Logging)
	defer closeLogger.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"event_backend", cfg.Generator.EventBackend,
		"max_steps", cfg.Generator.MaxSteps,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownMetrics, err := tcotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	metrics, err := tcotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
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

	// The event backend is explicit config; the service refuses to fall
	// back silently when the durable backend is unreachable.
	var (
		events eventlog.Log
		leases lease.Store
	)
	switch cfg.Generator.EventBackend {
	case "nats":
		client, err := natsjs.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = client.Close() }()
		events = natsjs.NewLog(client)
		leases, err = natsjs.NewLease(ctx, client, cfg.NATS.LeaseBucket)
		if err != nil {
			return fmt.Errorf("lease bucket: %w", err)
		}
		slog.Info("jetstream event log ready", "url", cfg.NATS.URL)
	case "memory":
		events = memlog.NewLog()
		leases = memlog.NewLease()
		slog.Warn("in-memory event log: sessions do not survive restarts")
	default:
		return fmt.Errorf("unknown event backend %q", cfg.Generator.EventBackend)
	}

	history, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("history cache: %w", err)
	}
	defer history.Close()

	// --- Collaborators ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	invoker := litellm.NewClient(cfg.Model)
	invoker.SetBreaker(breaker)

	registry, err := tools.NewRegistry(cfg.Tools.Timeout, tools.WalletTools(cfg.Tools, breaker)...)
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}

	// --- Core ---
	store := postgres.NewStore(pool)
	orch := service.NewOrchestrator(invoker, registry, events, store, log, metrics,
		cfg.Generator.MaxSteps, cfg.Generator.SessionBudget)
	manager := service.NewSessionManager(orch, store, events, leases, registry, history,
		log, metrics, cfg.Generator.MaxConcurrent, cfg.Generator.Retention, cfg.Cache.HistoryTTL)
	defer manager.Close()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	manager.StartJanitor(janitorCtx, time.Minute)

	// --- HTTP ---
	rateLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	defer rateLimiter.StartCleanup(10*time.Minute, time.Hour)()

	handlers := tchttp.NewHandlers(manager, store, registry,
		healthFunc(cfg, pool, invoker))
	wsHandler := ws.NewHandler(manager, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tchttp.SecurityHeaders)
	r.Use(tchttp.Logger)
	r.Use(rateLimiter.Handler)
	r.Use(tcotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/ws/stream/{session_id}", wsHandler.Stream)
	tchttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthFunc reports component wiring and the active event-log backend
// as a capability flag.
func healthFunc(cfg *config.Config, pool *pgxpool.Pool, llm *litellm.Client) tchttp.HealthFunc {
	return func(ctx context.Context) map[string]any {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		pgOK := pool.Ping(checkCtx) == nil
		llmOK, _ := llm.Health(checkCtx)

		return map[string]any{
			"status":        "ok",
			"event_backend": cfg.Generator.EventBackend,
			"postgres":      pgOK,
			"litellm":       llmOK,
			"model":         cfg.Model.Name,
		}
	}
}
