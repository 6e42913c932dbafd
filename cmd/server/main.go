package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/emostream/relay/internal/config"
	"github.com/emostream/relay/internal/enrich"
	"github.com/emostream/relay/internal/hume"
	"github.com/emostream/relay/internal/metrics"
	"github.com/emostream/relay/internal/relay"
	"github.com/emostream/relay/internal/server"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found; using system environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("service starting",
		slog.String("address", cfg.Server.ListenAddr()),
		slog.String("hume_stream_url", cfg.Hume.StreamURL),
		slog.String("openai_model", cfg.OpenAI.Model),
		slog.Duration("throttle_window", cfg.Relay.GetThrottleWindow()),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	registry := relay.NewRegistry()
	throttle := relay.NewThrottle(cfg.Relay.GetThrottleWindow())

	enricher, err := enrich.NewClient(enrich.Config{
		Endpoint:  cfg.OpenAI.Endpoint,
		APIKey:    cfg.OpenAI.APIKey,
		Model:     cfg.OpenAI.Model,
		MaxTokens: cfg.OpenAI.MaxTokens,
		Timeout:   cfg.OpenAI.GetTimeoutDuration(),
	}, logger)
	if err != nil {
		logger.Error("failed to create enrichment client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	humeConfig := hume.Config{
		StreamURL: cfg.Hume.StreamURL,
		APIKey:    cfg.Hume.APIKey,
	}
	newSession := func(clientID string, callbacks hume.Callbacks) relay.UpstreamSession {
		return hume.NewClient(humeConfig, clientID, logger, callbacks)
	}

	handler := relay.NewHandler(logger, registry, throttle, enricher, appMetrics, newSession)
	srv := server.New(cfg.Server.ListenAddr(), logger, registry, handler, prometheus.DefaultGatherer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("service stopped")
}

// initLogger creates the structured logger from configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
