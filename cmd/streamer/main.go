// Polymarket stream core — a real-time CLOB order-book streaming engine.
//
// Architecture:
//
//	main.go                     — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/streamengine       — orchestrator: wires the WS connectors, decoder, updater, recorder, broadcaster
//	internal/wsconn             — WebSocket connection lifecycle, heartbeat, reconnect-with-backoff
//	internal/wire               — decodes raw frames into typed PolyEvents
//	internal/bookmodel          — per-asset order book state (bid/ask ladders)
//	internal/bookupdate         — applies events to book state, verifies digest, sanitizes crossed markets
//	internal/subscription       — authoritative active-subscription set, diffed and reasserted on reconnect
//	internal/recorder           — append-only binary session log per (asset, connection epoch)
//	internal/bcast              — multi-consumer event fan-out with lag-aware back-pressure
//	internal/resync             — fetches a fresh snapshot on digest mismatch or explicit request
//	internal/replay             — reads a recorded session back as a PolyEvent stream
//	internal/metrics            — Prometheus counters/gauges for the above
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"polymarket-streamcore/internal/config"
	"polymarket-streamcore/internal/streamengine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("STREAMCORE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := streamengine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create streaming engine", "error", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := eng.Metrics().Serve(cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics endpoint started", "addr", cfg.Metrics.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start streaming engine", "error", err)
		cancel()
		os.Exit(1)
	}

	logger.Info("streaming engine started", "assets", cfg.Market.Assets, "hash_algorithm", cfg.Market.HashAlgorithm)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := eng.Stop(); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
