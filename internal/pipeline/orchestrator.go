package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/minji/invitation-studio/internal/artifacts"
	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/llm"
	"github.com/minji/invitation-studio/internal/observability"
	"github.com/minji/invitation-studio/internal/parsing"
	"github.com/minji/invitation-studio/internal/prompts"
	"github.com/minji/invitation-studio/internal/schemas"
)

// promptFile holds the card page templates.
const promptFile = "invitation.json"

// PlaceholderRef marks a failed stage in the results. Clients render a local
// placeholder image for it.
const PlaceholderRef = "placeholder://failed-stage"

// ProgressEvent represents a progress update during a pipeline run.
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Position int    `json:"position,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called as the run advances.
type ProgressCallback func(event ProgressEvent)

// StageGenerator runs one generation call. *generation.Generator satisfies it.
type StageGenerator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Artifact, error)
}

// ArtifactSaver persists stage outputs. *artifacts.Store satisfies it.
type ArtifactSaver interface {
	Save(data []byte, kind, ext string) (*artifacts.Saved, error)
}

// Orchestrator runs chained generation: texts first, then every stage in
// position order. A failed stage is recorded with a placeholder and the run
// keeps going; only infrastructure faults (artifact store) abort it.
type Orchestrator struct {
	images  StageGenerator
	texts   StageGenerator
	store   ArtifactSaver
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOrchestrator builds an Orchestrator. metrics may be nil.
func NewOrchestrator(images, texts StageGenerator, store ArtifactSaver, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		images:  images,
		texts:   texts,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Run executes every stage in position order. The returned PipelineRun has
// exactly one result per stage. The error is non-nil only for whole-run
// faults: invalid stages, a canceled context, or an unwritable store.
func (o *Orchestrator) Run(ctx context.Context, stages []StageSpec, req *GenerationRequest, onProgress ProgressCallback) (*PipelineRun, error) {
	if err := ValidateStages(stages); err != nil {
		return nil, err
	}

	started := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.PipelineDuration.Observe(time.Since(started).Seconds())
		}
	}()

	ordered := make([]StageSpec, len(stages))
	copy(ordered, stages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	texts := o.generateTexts(ctx, req, onProgress)
	vars := templateVars(req, texts)

	run := &PipelineRun{
		Results: make([]StageResult, 0, len(ordered)),
		Texts:   texts,
	}

	// threaded is the last successful stage output; nil right after a
	// failure so the next stage starts from the prompt alone.
	var threaded *generation.Artifact

	for _, stage := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		emit(onProgress, ProgressEvent{
			Step:     stage.Kind,
			Category: "stage",
			Message:  fmt.Sprintf("generating page %d of %d", stage.Position, len(ordered)),
			Position: stage.Position,
		})

		artifact, err := o.runStage(ctx, stage, req, vars, threaded)
		if err != nil {
			o.logger.Warn("stage failed",
				zap.Int("position", stage.Position),
				zap.String("kind", stage.Kind),
				zap.Error(err))
			if o.metrics != nil {
				o.metrics.StageFailures.Inc()
			}
			run.Results = append(run.Results, StageResult{
				Position:    stage.Position,
				Kind:        stage.Kind,
				Succeeded:   false,
				ArtifactRef: PlaceholderRef,
				Detail:      err.Error(),
			})
			threaded = nil
			emit(onProgress, ProgressEvent{
				Step:     stage.Kind,
				Category: "stage",
				Message:  fmt.Sprintf("page %d failed: %v", stage.Position, err),
				Position: stage.Position,
			})
			continue
		}

		saved, err := o.store.Save(artifact.Data, stage.Kind, formatExt(artifact.Format))
		if err != nil {
			return nil, fmt.Errorf("persisting page %d: %w", stage.Position, err)
		}

		run.Results = append(run.Results, StageResult{
			Position:    stage.Position,
			Kind:        stage.Kind,
			Succeeded:   true,
			ArtifactRef: saved.URL,
		})
		threaded = artifact
		emit(onProgress, ProgressEvent{
			Step:     stage.Kind,
			Category: "stage",
			Message:  fmt.Sprintf("page %d done", stage.Position),
			Position: stage.Position,
			Content:  saved.URL,
		})
	}

	emit(onProgress, ProgressEvent{
		Step:     "pipeline",
		Category: "complete",
		Message:  fmt.Sprintf("finished %d pages", len(run.Results)),
	})
	return run, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage StageSpec, req *GenerationRequest, vars map[string]string, threaded *generation.Artifact) (*generation.Artifact, error) {
	prompt, ok := req.PromptOverrides[stage.Position]
	if !ok {
		var err error
		prompt, err = prompts.Resolve(promptFile, stage.PromptKey, vars)
		if err != nil {
			return nil, err
		}
	}

	var refs []llm.Reference
	switch stage.InputPolicy {
	case InputFixedReference:
		refs = req.References()
	case InputPreviousOutput:
		if threaded != nil {
			refs = []llm.Reference{{Format: threaded.Format, Data: threaded.Data}}
		}
	}

	return o.images.Generate(ctx, generation.Request{
		Prompt:     prompt,
		References: refs,
		Modality:   generation.ModalityImage,
	})
}

// generateTexts produces the card copy. Any failure degrades to empty texts;
// the pages still render, just without copy baked into the prompts.
func (o *Orchestrator) generateTexts(ctx context.Context, req *GenerationRequest, onProgress ProgressCallback) CardTexts {
	emit(onProgress, ProgressEvent{Step: "texts", Category: "texts", Message: "generating card copy"})

	prompt, err := prompts.Resolve("texts.json", "generate_texts", templateVars(req, CardTexts{}))
	if err != nil {
		o.logger.Warn("texts prompt failed, continuing without copy", zap.Error(err))
		return CardTexts{}
	}

	artifact, err := o.texts.Generate(ctx, generation.Request{
		Prompt:   prompt,
		Modality: generation.ModalityJSON,
	})
	if err != nil {
		o.logger.Warn("texts generation failed, continuing without copy", zap.Error(err))
		return CardTexts{}
	}

	doc, err := parsing.Normalize(artifact.Text)
	if err != nil {
		o.logger.Warn("texts response unparsable, continuing without copy", zap.Error(err))
		return CardTexts{}
	}
	if err := schemas.ValidateTexts(doc); err != nil {
		o.logger.Warn("texts failed schema validation, continuing without copy", zap.Error(err))
		return CardTexts{}
	}

	texts := CardTexts{
		Greeting:   stringField(doc, "greeting"),
		Invitation: stringField(doc, "invitation"),
		Location:   stringField(doc, "location"),
		Closing:    stringField(doc, "closing"),
	}
	emit(onProgress, ProgressEvent{Step: "texts", Category: "texts", Message: "card copy ready", Content: texts})
	return texts
}

func emit(cb ProgressCallback, event ProgressEvent) {
	if cb != nil {
		cb(event)
	}
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func formatExt(format string) string {
	if format == "" {
		return "png"
	}
	return format
}
