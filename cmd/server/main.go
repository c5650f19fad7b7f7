package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/boardsync/internal/archive"
	"github.com/example/boardsync/internal/broadcast"
	"github.com/example/boardsync/internal/config"
	"github.com/example/boardsync/internal/observability"
	"github.com/example/boardsync/internal/relay"
	"github.com/example/boardsync/internal/storage"
	"github.com/example/boardsync/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	registry := relay.NewRegistry(logger)

	if resources.Postgres != nil {
		registry.SetSnapshotStore(storage.NewSnapshots(resources.Postgres))
		logger.Info().Msg("snapshot persistence enabled")
	}

	if resources.Redis != nil {
		bridge := broadcast.NewRedisBridge(resources.Redis, registry, logger)
		registry.SetPublisher(bridge)
		bridge.Start(ctx)
		logger.Info().Msg("cross-instance bridge enabled")
	}

	if resources.Object != nil {
		worker := archive.NewWorker(registry, resources.Object, cfg.ObjectBucket, logger)
		worker.SetInterval(cfg.ArchiveInterval)
		worker.SetMinObjectSize(cfg.ArchiveMinBytes)
		worker.Start(ctx)
		logger.Info().Str("bucket", cfg.ObjectBucket).Msg("snapshot archival enabled")
	}

	handler := relay.NewHandler(registry, logger)
	connections := ws.NewConnectionRegistry()
	gateway, err := ws.NewGateway(connections, logger, handler.Hooks(), ws.GatewayConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build websocket gateway")
	}

	mux := http.NewServeMux()
	mux.Handle("/", gateway)
	mux.HandleFunc("/health", healthHandler(registry, connections, resources))
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("relay listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = httpServer.Shutdown(shutdownCtx)
		connections.CloseAll()
		resources.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

func healthHandler(registry *relay.Registry, connections *ws.ConnectionRegistry, resources *config.Resources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		healthy := true
		if err := resources.HealthCheck(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			healthy = false
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy":     healthy,
			"rooms":       registry.RoomCount(),
			"connections": connections.Len(),
		})
	}
}
