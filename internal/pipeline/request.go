// Package pipeline orchestrates chained invitation-card generation: card
// copy first, then each page in sequence with the previous page threaded
// forward as a style reference.
package pipeline

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/minji/invitation-studio/internal/llm"
)

// InputPolicy decides what image input a stage receives.
type InputPolicy string

const (
	// InputNone sends the prompt alone.
	InputNone InputPolicy = "none"
	// InputPreviousOutput sends the most recent successful stage output.
	// After a failed stage there is nothing to thread and the stage runs
	// without input.
	InputPreviousOutput InputPolicy = "previous_output"
	// InputFixedReference sends the request's reference images.
	InputFixedReference InputPolicy = "fixed_reference"
)

// StageSpec describes one step of a chained run.
type StageSpec struct {
	Position    int // 1-based
	PromptKey   string
	InputPolicy InputPolicy
	Kind        string // artifact role tag: "cover", "content", "location"
}

// StageResult records the outcome of one stage. Results are replaced
// wholesale, never mutated after the stage finishes.
type StageResult struct {
	Position    int    `json:"position"`
	Kind        string `json:"type"`
	Succeeded   bool   `json:"succeeded"`
	ArtifactRef string `json:"artifact_ref"`
	Detail      string `json:"detail,omitempty"`
}

// CardTexts is the copy rendered onto the card pages.
type CardTexts struct {
	Greeting   string `json:"greeting"`
	Invitation string `json:"invitation"`
	Location   string `json:"location"`
	Closing    string `json:"closing"`
}

// PipelineRun is the outcome of a full run. Results always has one entry per
// stage, failed stages included.
type PipelineRun struct {
	Results []StageResult `json:"pages"`
	Texts   CardTexts     `json:"texts"`
}

// GenerationRequest carries the card fields and reference images for one
// run. It is not modified by the pipeline.
type GenerationRequest struct {
	GroomName    string `validate:"required"`
	BrideName    string `validate:"required"`
	Venue        string `validate:"required"`
	Address      string
	WeddingDate  string `validate:"required"`
	WeddingTime  string
	Tone         string
	BorderDesign string

	CouplePhoto llm.Reference
	StyleImage  llm.Reference
	MapImage    *llm.Reference

	// PromptOverrides replaces the resolved prompt for a stage position.
	PromptOverrides map[int]string
}

var requestValidator = validator.New()

// Validate checks required card fields and reference images.
func (r *GenerationRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return err
	}
	if len(r.CouplePhoto.Data) == 0 {
		return fmt.Errorf("couple photo is required")
	}
	if len(r.StyleImage.Data) == 0 {
		return fmt.Errorf("style image is required")
	}
	return nil
}

// References returns the request's fixed reference images in prompt order.
func (r *GenerationRequest) References() []llm.Reference {
	refs := []llm.Reference{r.CouplePhoto, r.StyleImage}
	if r.MapImage != nil {
		refs = append(refs, *r.MapImage)
	}
	return refs
}

// DefaultInvitationStages is the standard three-page card plan.
func DefaultInvitationStages() []StageSpec {
	return []StageSpec{
		{Position: 1, PromptKey: "cover", InputPolicy: InputFixedReference, Kind: "cover"},
		{Position: 2, PromptKey: "content", InputPolicy: InputPreviousOutput, Kind: "content"},
		{Position: 3, PromptKey: "location", InputPolicy: InputPreviousOutput, Kind: "location"},
	}
}

// ValidateStages checks that stages are well formed: positions contiguous
// from 1, and no stage references earlier output before one exists.
func ValidateStages(stages []StageSpec) error {
	if len(stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	sorted := make([]StageSpec, len(stages))
	copy(sorted, stages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	for i, stage := range sorted {
		if stage.Position != i+1 {
			return fmt.Errorf("stage positions must be contiguous from 1, got %d at index %d", stage.Position, i)
		}
		if stage.InputPolicy == InputPreviousOutput && stage.Position == 1 {
			return fmt.Errorf("stage 1 cannot reference previous output")
		}
		if stage.PromptKey == "" {
			return fmt.Errorf("stage %d has no prompt key", stage.Position)
		}
	}
	return nil
}

// templateVars builds the substitution map shared by all card prompts.
func templateVars(req *GenerationRequest, texts CardTexts) map[string]string {
	return map[string]string{
		"GroomName":      req.GroomName,
		"BrideName":      req.BrideName,
		"Venue":          req.Venue,
		"Address":        req.Address,
		"WeddingDate":    req.WeddingDate,
		"WeddingTime":    req.WeddingTime,
		"Tone":           req.Tone,
		"BorderDesign":   req.BorderDesign,
		"GreetingText":   texts.Greeting,
		"InvitationText": texts.Invitation,
		"LocationText":   texts.Location,
		"ClosingText":    texts.Closing,
	}
}
