package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/kalshi-sync/internal/alert"
	"github.com/rickgao/kalshi-sync/internal/book"
	"github.com/rickgao/kalshi-sync/internal/config"
	"github.com/rickgao/kalshi-sync/internal/connection"
	"github.com/rickgao/kalshi-sync/internal/database"
	"github.com/rickgao/kalshi-sync/internal/store"
	"github.com/rickgao/kalshi-sync/internal/version"
	"github.com/rickgao/kalshi-sync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/feedsync.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"services", len(cfg.Services),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to TimescaleDB
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Reconnection state store (Redis)
	storeCfg := store.DefaultConfig()
	storeCfg.Addr = cfg.Store.Addr
	storeCfg.Password = cfg.Store.Password
	storeCfg.DB = cfg.Store.DB
	storeCfg.KeyPrefix = cfg.Store.KeyPrefix
	storeCfg.EventRetention = cfg.Store.EventRetention
	storeCfg.MetricsTTL = cfg.Store.MetricsTTL

	st := store.NewRedisStore(storeCfg, logger)
	defer st.Close()

	logger.Info("state store ready", "addr", cfg.Store.Addr)

	// Janitor prunes records for services that stopped reporting.
	janitorCfg := store.DefaultJanitorConfig()
	janitorCfg.Interval = cfg.Store.JanitorInterval
	janitorCfg.RecordMaxAge = cfg.Store.RecordMaxAge
	janitor := store.NewJanitor(janitorCfg, st, logger)
	if err := janitor.Start(ctx); err != nil {
		logger.Error("failed to start janitor", "error", err)
		os.Exit(1)
	}
	defer stopWithTimeout(janitor.Stop, 10*time.Second)

	// Order book synchronizer, shared across services.
	books := book.NewSynchronizer(cfg.Writers.BufferSize, logger)

	// Batch writer drains committed updates into TimescaleDB.
	writerCfg := writer.DefaultConfig()
	writerCfg.BatchSize = cfg.Writers.BatchSize
	writerCfg.FlushInterval = cfg.Writers.FlushInterval
	w := writer.New(writerCfg, books.Updates(), pool, logger)
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start writer", "error", err)
		os.Exit(1)
	}
	defer stopWithTimeout(w.Stop, 30*time.Second)

	// Alert gate for the alerting collaborator.
	gateCfg := alert.DefaultGateConfig()
	gateCfg.DefaultGracePeriod = cfg.Alerting.GracePeriod
	gateCfg.HistorySize = cfg.Alerting.HistorySize
	gate := alert.NewGate(gateCfg, st, logger)

	// One lifecycle manager per configured service.
	managers := make([]*connection.Manager, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		mgrCfg := connection.DefaultManagerConfig()
		mgrCfg.ServiceName = svc.Name
		mgrCfg.URL = svc.WSURL
		mgrCfg.APIKey = svc.APIKey
		mgrCfg.Channels = svc.Channels
		mgrCfg.MarketTickers = svc.MarketTickers
		mgrCfg.SubscribeTimeout = cfg.Reconnect.SubscribeTimeout
		mgrCfg.ReconnectMinInterval = cfg.Reconnect.MinInterval
		mgrCfg.ReconnectMaxInterval = cfg.Reconnect.MaxInterval
		mgrCfg.ReconnectMultiplier = cfg.Reconnect.Multiplier
		mgrCfg.TerminalCloseCodes = cfg.Reconnect.TerminalCloseCodes
		mgrCfg.Health.PingInterval = cfg.Health.PingInterval
		mgrCfg.Health.PongTimeout = cfg.Health.PongTimeout
		mgrCfg.HealthCheckInterval = cfg.Health.CheckInterval
		mgrCfg.MessageBufferSize = cfg.Writers.BufferSize

		mgr := connection.NewManager(mgrCfg, st, books, logger)
		if err := mgr.Establish(ctx); err != nil {
			logger.Error("failed to establish connection", "service", svc.Name, "error", err)
			os.Exit(1)
		}
		managers = append(managers, mgr)

		logger.Info("service connection established", "service", svc.Name, "url", svc.WSURL)
	}

	// Health + metrics + alert-gate HTTP surface.
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHandler(cfg, st, books, gate, managers, logger),
	}

	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("feedsync running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, mgr := range managers {
		if err := mgr.TearDown(shutdownCtx); err != nil {
			logger.Warn("connection teardown failed", "error", err)
		}
	}
	books.Close()

	httpServer.Shutdown(shutdownCtx)

	logger.Info("feedsync stopped")
}

// stopWithTimeout runs a Stop(ctx) function with its own deadline at defer
// time.
func stopWithTimeout(stop func(context.Context) error, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	stop(ctx)
}

// createHandler builds the HTTP surface: /health, Prometheus metrics, the
// alert-gate decision endpoint, and a per-service state dump for dashboards.
func createHandler(
	cfg *config.Config,
	st store.Store,
	books *book.Synchronizer,
	gate *alert.Gate,
	managers []*connection.Manager,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(cfg.Metrics.Path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Connection states from the in-memory managers (authoritative).
		connections := make(map[string]string, len(managers))
		for _, mgr := range managers {
			record := mgr.Record()
			connections[record.ServiceName] = string(record.State)
			if record.State.Terminal() {
				health.Status = "unhealthy"
			} else if record.InReconnection {
				health.Status = "degraded"
			}
		}
		health.Components["connections"] = connections

		// The store mirror is best effort; a read failure degrades, never 500s.
		if _, err := st.GetAll(ctx); err != nil {
			health.Components["store"] = map[string]string{
				"status": "unreachable",
				"error":  err.Error(),
			}
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		} else {
			health.Components["store"] = "connected"
		}

		health.Components["book"] = books.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	// Alerting collaborators ask here before notifying about a service error.
	mux.HandleFunc("/alerts/decide", func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		alertType := r.URL.Query().Get("type")
		if service == "" || alertType == "" {
			http.Error(w, "service and type query parameters are required", http.StatusBadRequest)
			return
		}

		grace := cfg.Alerting.GracePeriod
		if raw := r.URL.Query().Get("grace_period"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				http.Error(w, "invalid grace_period: "+err.Error(), http.StatusBadRequest)
				return
			}
			grace = parsed
		}

		decision := gate.Decide(r.Context(), service, alertType, grace)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(decision)
	})

	mux.HandleFunc("/debug/connections", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		records, err := st.GetAll(ctx)
		if err != nil {
			logger.Warn("connection state dump failed", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	})

	return mux
}
