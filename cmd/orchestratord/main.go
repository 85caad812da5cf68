// Command orchestratord is the orchestrator's composition root: it wires
// persistence, the event bus, the dispatcher bridge, the task registry,
// telemetry, and the orchestrator service behind a reference HTTP
// transport, with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synthos/orchestrator/internal/config"
	"github.com/synthos/orchestrator/internal/dispatcher"
	"github.com/synthos/orchestrator/internal/eventbus"
	"github.com/synthos/orchestrator/internal/orchestrator"
	"github.com/synthos/orchestrator/internal/persistence"
	"github.com/synthos/orchestrator/internal/registry"
	"github.com/synthos/orchestrator/internal/telemetry"
	"github.com/synthos/orchestrator/internal/transport"
	"github.com/synthos/orchestrator/pkg/db"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(logHandler))

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer pool.Close()

	store, err := persistence.NewPostgresStore(pool)
	if err != nil {
		slog.Error("failed to create persistence store", "error", err)
		return
	}

	bus, closeBus := newEventBus(cfg.NATSURL)
	defer closeBus()

	reg := registry.New()

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promRegistry)

	bridge := dispatcher.New(bus, reg, cfg.TaskDefaults, metrics)
	if cfg.DefaultTaskTimeoutMs > 0 {
		bridge = bridge.WithTaskTimeout(time.Duration(cfg.DefaultTaskTimeoutMs) * time.Millisecond)
	}

	svc := orchestrator.New(store, bridge, metrics)

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	transport.NewServer(svc).LoadRoutes(apiRouter)
	apiRouter.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})).Methods("GET")

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"http://localhost:3003"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("starting server on :8080")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}

// newEventBus connects to NATS when reachable and falls back to an
// in-process bus for single-binary / local development, so the dispatcher
// bridge always has a working Bus to round-trip task execution through.
func newEventBus(natsURL string) (eventbus.Bus, func()) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		slog.Warn("could not connect to NATS, falling back to in-process event bus", "url", natsURL, "error", err)
		memBus := eventbus.NewMemoryBus()
		return memBus, func() {}
	}
	slog.Info("connected to NATS", "url", natsURL)
	return eventbus.NewNATSBus(conn), conn.Close
}
