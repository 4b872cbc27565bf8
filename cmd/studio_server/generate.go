package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/minji/invitation-studio/internal/artifacts"
	"github.com/minji/invitation-studio/internal/config"
	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/llm"
	"github.com/minji/invitation-studio/internal/observability"
	"github.com/minji/invitation-studio/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the card pipeline once from the command line",
	Long:  `Generates the full three-page invitation card from local photo files and writes the pages to the content directory.`,
	RunE:  runGenerate,
}

var (
	genCouplePhoto string
	genStyleImage  string
	genMapImage    string
	genGroomName   string
	genBrideName   string
	genVenue       string
	genAddress     string
	genDate        string
	genTime        string
	genTone        string
	genBorder      string
	genOutDir      string
)

func init() {
	generateCmd.Flags().StringVar(&genCouplePhoto, "couple-photo", "", "Path to the couple photo (required)")
	generateCmd.Flags().StringVar(&genStyleImage, "style-image", "", "Path to the style reference image (required)")
	generateCmd.Flags().StringVar(&genMapImage, "map-image", "", "Path to a venue map image (optional)")
	generateCmd.Flags().StringVar(&genGroomName, "groom", "", "Groom's name (required)")
	generateCmd.Flags().StringVar(&genBrideName, "bride", "", "Bride's name (required)")
	generateCmd.Flags().StringVar(&genVenue, "venue", "", "Venue name (required)")
	generateCmd.Flags().StringVar(&genAddress, "address", "", "Venue address")
	generateCmd.Flags().StringVar(&genDate, "date", "", "Wedding date (required)")
	generateCmd.Flags().StringVar(&genTime, "time", "", "Wedding time")
	generateCmd.Flags().StringVar(&genTone, "tone", "", "Copy tone, e.g. formal or playful")
	generateCmd.Flags().StringVar(&genBorder, "border", "", "Cover border design description")
	generateCmd.Flags().StringVar(&genOutDir, "out", "", "Output directory (overrides CONTENT_DIR)")

	_ = generateCmd.MarkFlagRequired("couple-photo")
	_ = generateCmd.MarkFlagRequired("style-image")
	_ = generateCmd.MarkFlagRequired("groom")
	_ = generateCmd.MarkFlagRequired("bride")
	_ = generateCmd.MarkFlagRequired("venue")
	_ = generateCmd.MarkFlagRequired("date")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg := config.FromEnv()
	if genOutDir != "" {
		cfg.ContentDir = genOutDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, "console")
	defer logger.Sync() //nolint:errcheck
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	apiKey, err := cfg.RequireGeminiKey()
	if err != nil {
		return err
	}
	client, err := llm.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	genOpts := generation.Options{
		Timeout:        cfg.UpstreamTimeout,
		MaxConcurrent:  cfg.MaxConcurrent,
		CallsPerSecond: cfg.CallsPerSecond,
		Metrics:        metrics,
		Logger:         logger,
	}
	var imageFallback generation.Backend
	if cfg.ImageFallbackModel != "" {
		imageFallback = generation.NewGeminiBackend(client, cfg.ImageFallbackModel)
	}
	images := generation.NewGenerator(generation.NewGeminiBackend(client, cfg.ImageModel), imageFallback, genOpts)
	texts := generation.NewGenerator(generation.NewGeminiBackend(client, cfg.TextModel), nil, genOpts)

	store, err := artifacts.NewStore(cfg.ContentDir, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	req := &pipeline.GenerationRequest{
		GroomName:    genGroomName,
		BrideName:    genBrideName,
		Venue:        genVenue,
		Address:      genAddress,
		WeddingDate:  genDate,
		WeddingTime:  genTime,
		Tone:         genTone,
		BorderDesign: genBorder,
	}
	if req.CouplePhoto, err = referenceFromFile(genCouplePhoto); err != nil {
		return err
	}
	if req.StyleImage, err = referenceFromFile(genStyleImage); err != nil {
		return err
	}
	if genMapImage != "" {
		mapRef, err := referenceFromFile(genMapImage)
		if err != nil {
			return err
		}
		req.MapImage = &mapRef
	}
	if err := req.Validate(); err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(images, texts, store, metrics, logger)
	run, err := orch.Run(ctx, pipeline.DefaultInvitationStages(), req, func(event pipeline.ProgressEvent) {
		fmt.Printf("[%s] %s\n", event.Category, event.Message)
	})
	if err != nil {
		return err
	}

	fmt.Println()
	for _, page := range run.Results {
		status := "ok"
		if !page.Succeeded {
			status = "failed: " + page.Detail
		}
		fmt.Printf("page %d (%s): %s  %s\n", page.Position, page.Kind, page.ArtifactRef, status)
	}
	if run.Texts.Greeting != "" {
		fmt.Printf("\ngreeting:   %s\ninvitation: %s\nlocation:   %s\nclosing:    %s\n",
			run.Texts.Greeting, run.Texts.Invitation, run.Texts.Location, run.Texts.Closing)
	}
	return nil
}

// referenceFromFile loads a local image into an inline reference.
func referenceFromFile(path string) (llm.Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.Reference{}, fmt.Errorf("reading %s: %w", path, err)
	}
	format := "png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		format = "jpeg"
	case ".webp":
		format = "webp"
	}
	return llm.Reference{Format: format, Data: data}, nil
}
