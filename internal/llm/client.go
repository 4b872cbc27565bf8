package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/minji/invitation-studio/internal/parsing"
)

// Reference is an inline image attached to a generation call. Format is the
// bare image format ("png", "jpeg"), not a full MIME type.
type Reference struct {
	Format string
	Data   []byte
}

// ImageResult is the outcome of an image generation call. Data is nil when
// the model answered with text only.
type ImageResult struct {
	Data   []byte
	Format string
	Text   string
}

// Client is an abstraction over generation providers.
type Client interface {
	// GenerateText generates plain text from a prompt and optional reference images.
	GenerateText(ctx context.Context, model, prompt string, refs ...Reference) (string, error)
	// GenerateJSON generates JSON output from a prompt, with fences stripped.
	GenerateJSON(ctx context.Context, model, prompt string) (string, error)
	// GenerateImage generates an image from a prompt and reference images.
	GenerateImage(ctx context.Context, model, prompt string, refs ...Reference) (*ImageResult, error)
	// Close releases any resources held by the client.
	Close() error
}

// GeminiClient implements Client for Google Gemini.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client}, nil
}

// GenerateText generates plain text from a prompt and optional reference images.
func (c *GeminiClient) GenerateText(ctx context.Context, modelName, prompt string, refs ...Reference) (string, error) {
	model := c.client.GenerativeModel(NormalizeModelName(modelName))

	resp, err := model.GenerateContent(ctx, buildParts(prompt, refs)...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractText(resp)
}

// GenerateJSON generates JSON output from a prompt. The model is asked for a
// JSON MIME type and any markdown fence wrapper is stripped anyway, since
// models do not always honor the request.
func (c *GeminiClient) GenerateJSON(ctx context.Context, modelName, prompt string) (string, error) {
	model := c.client.GenerativeModel(NormalizeModelName(modelName))
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	return parsing.CleanJSONBlock(text), nil
}

// GenerateImage generates an image from a prompt and reference images. When
// the model returns no inline image, the result carries only the text parts
// and a nil Data; the caller decides whether that is an error.
func (c *GeminiClient) GenerateImage(ctx context.Context, modelName, prompt string, refs ...Reference) (*ImageResult, error) {
	model := c.client.GenerativeModel(NormalizeModelName(modelName))

	resp, err := model.GenerateContent(ctx, buildParts(prompt, refs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	return extractImage(resp), nil
}

// Close releases resources held by the client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func buildParts(prompt string, refs []Reference) []genai.Part {
	parts := make([]genai.Part, 0, len(refs)+1)
	parts = append(parts, genai.Text(prompt))
	for _, ref := range refs {
		parts = append(parts, genai.ImageData(ref.Format, ref.Data))
	}
	return parts
}

// extractText joins all text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// extractImage returns the first inline image of the first candidate, plus
// any accompanying text. A response without candidates yields an empty result.
func extractImage(resp *genai.GenerateContentResponse) *ImageResult {
	result := &ImageResult{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Blob:
			if result.Data == nil && strings.HasPrefix(p.MIMEType, "image/") {
				result.Data = p.Data
				result.Format = strings.TrimPrefix(p.MIMEType, "image/")
			}
		case genai.Text:
			texts = append(texts, string(p))
		}
	}
	result.Text = strings.Join(texts, "")
	return result
}
