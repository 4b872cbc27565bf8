// Package generation runs single-stage generation calls against an upstream
// backend, with bounded retry on transient faults and at most one hop to a
// fallback backend.
package generation

import (
	"context"
	"fmt"

	"github.com/minji/invitation-studio/internal/llm"
)

// Modality selects the kind of artifact a request produces.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityText  Modality = "text"
	// ModalityJSON asks the model for a JSON response and strips code fences
	// before returning the text.
	ModalityJSON Modality = "json"
)

// Request is a single generation call. References are inline images passed
// alongside the prompt.
type Request struct {
	Prompt     string
	References []llm.Reference
	Modality   Modality
}

// Artifact is the product of a generation call. Image artifacts carry Data
// and Format; text artifacts carry Text.
type Artifact struct {
	Data   []byte
	Format string
	Text   string
}

// Backend executes generation requests against one upstream model.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Artifact, error)
}

// NoArtifactProducedError is returned when the upstream call succeeded but
// yielded nothing usable: a text-only answer to an image request, or an
// empty text response.
type NoArtifactProducedError struct {
	Backend string
	Detail  string
}

func (e *NoArtifactProducedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend %s produced no artifact: %s", e.Backend, e.Detail)
	}
	return fmt.Sprintf("backend %s produced no artifact", e.Backend)
}

// GeminiBackend adapts an llm.Client to the Backend interface for one model.
type GeminiBackend struct {
	client llm.Client
	model  string
}

// NewGeminiBackend wraps client calls to the given model.
func NewGeminiBackend(client llm.Client, model string) *GeminiBackend {
	return &GeminiBackend{client: client, model: llm.NormalizeModelName(model)}
}

// Name returns the normalized model name.
func (b *GeminiBackend) Name() string {
	return b.model
}

// Generate executes the request against the configured model.
func (b *GeminiBackend) Generate(ctx context.Context, req Request) (*Artifact, error) {
	switch req.Modality {
	case ModalityText:
		text, err := b.client.GenerateText(ctx, b.model, req.Prompt, req.References...)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, &NoArtifactProducedError{Backend: b.model, Detail: "empty text response"}
		}
		return &Artifact{Text: text}, nil

	case ModalityJSON:
		text, err := b.client.GenerateJSON(ctx, b.model, req.Prompt)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, &NoArtifactProducedError{Backend: b.model, Detail: "empty json response"}
		}
		return &Artifact{Text: text}, nil

	case ModalityImage:
		result, err := b.client.GenerateImage(ctx, b.model, req.Prompt, req.References...)
		if err != nil {
			return nil, err
		}
		if len(result.Data) == 0 {
			return nil, &NoArtifactProducedError{Backend: b.model, Detail: truncate(result.Text, 200)}
		}
		return &Artifact{Data: result.Data, Format: result.Format, Text: result.Text}, nil

	default:
		return nil, fmt.Errorf("unsupported modality %q", req.Modality)
	}
}

// UnconfiguredBackend stands in when the generation credential is absent at
// startup. Every call fails with the stored error, so endpoints that do not
// need the credential keep working while generation reports the missing key
// per call.
type UnconfiguredBackend struct {
	err error
}

// NewUnconfiguredBackend builds a backend that always fails with err.
func NewUnconfiguredBackend(err error) *UnconfiguredBackend {
	return &UnconfiguredBackend{err: err}
}

func (b *UnconfiguredBackend) Name() string {
	return "unconfigured"
}

func (b *UnconfiguredBackend) Generate(_ context.Context, _ Request) (*Artifact, error) {
	return nil, b.err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
