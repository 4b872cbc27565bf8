package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/minji/invitation-studio/internal/artifacts"
	"github.com/minji/invitation-studio/internal/config"
	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/jobs"
	"github.com/minji/invitation-studio/internal/llm"
	"github.com/minji/invitation-studio/internal/observability"
	"github.com/minji/invitation-studio/internal/pipeline"
	"github.com/minji/invitation-studio/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for card generation, copywriting, and async 3D/video jobs.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	images, texts, cleanup, err := buildGenerators(context.Background(), cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := artifacts.NewStore(cfg.ContentDir, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Dependencies{
		Runner:   pipeline.NewOrchestrator(images, texts, store, metrics, logger),
		Jobs:     jobs.NewTracker(cfg, store, metrics, logger),
		Images:   images,
		Texts:    texts,
		Store:    store,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

// buildGenerators wires the image and text generators. A missing Gemini key
// does not stop the server: the endpoints backed by other upstreams (and the
// simulated jobs) stay reachable, and generation calls report the missing
// credential individually.
func buildGenerators(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (images, texts pipeline.StageGenerator, cleanup func(), err error) {
	genOpts := generation.Options{
		Timeout:        cfg.UpstreamTimeout,
		MaxConcurrent:  cfg.MaxConcurrent,
		CallsPerSecond: cfg.CallsPerSecond,
		Metrics:        metrics,
		Logger:         logger,
	}
	cleanup = func() {}

	apiKey, keyErr := cfg.RequireGeminiKey()
	if keyErr != nil {
		logger.Warn("generation credential missing, generation endpoints will report it per call",
			zap.Error(keyErr))
		unconfigured := generation.NewUnconfiguredBackend(keyErr)
		images = generation.NewGenerator(unconfigured, nil, genOpts)
		texts = generation.NewGenerator(unconfigured, nil, genOpts)
		return images, texts, cleanup, nil
	}

	client, err := llm.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	cleanup = func() { _ = client.Close() }

	var imageFallback generation.Backend
	if cfg.ImageFallbackModel != "" {
		imageFallback = generation.NewGeminiBackend(client, cfg.ImageFallbackModel)
	}
	images = generation.NewGenerator(generation.NewGeminiBackend(client, cfg.ImageModel), imageFallback, genOpts)
	texts = generation.NewGenerator(generation.NewGeminiBackend(client, cfg.TextModel), nil, genOpts)
	return images, texts, cleanup, nil
}
