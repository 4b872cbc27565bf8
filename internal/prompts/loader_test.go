package prompts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get("invitation.json", "cover")
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "Wedding Invitation")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	var notFound *TemplateNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nonexistent.json", notFound.File)
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get("invitation.json", "nonexistent-key")
	var notFound *TemplateNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nonexistent-key", notFound.Key)
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestMustGet_ValidPrompt(t *testing.T) {
	ClearCache()

	assert.NotPanics(t, func() {
		prompt := MustGet("texts.json", "generate_texts")
		assert.NotEmpty(t, prompt)
	})
}

func TestResolve_Substitutes(t *testing.T) {
	ClearCache()

	prompt, err := Resolve("invitation.json", "cover", map[string]string{
		"GroomName":    "Minho",
		"BrideName":    "Seoyeon",
		"BorderDesign": "pressed wildflowers",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Minho & Seoyeon")
	assert.Contains(t, prompt, "pressed wildflowers")
	assert.NotContains(t, prompt, "{{.")
}

func TestResolve_UnresolvedPlaceholder(t *testing.T) {
	ClearCache()

	_, err := Resolve("invitation.json", "cover", map[string]string{
		"GroomName": "Minho",
	})
	var render *TemplateRenderError
	require.True(t, errors.As(err, &render))
	assert.Contains(t, render.Missing, "{{.BrideName}}")
}

func TestFormat(t *testing.T) {
	template := "Hello {{.Name}}, welcome to {{.Venue}}!"
	data := map[string]string{
		"Name":  "Alice",
		"Venue": "The Orchard House",
	}

	result := Format(template, data)
	assert.Equal(t, "Hello Alice, welcome to The Orchard House!", result)
}

func TestFormat_EmptyData(t *testing.T) {
	template := "Hello {{.Name}}"
	data := map[string]string{}

	result := Format(template, data)
	assert.Equal(t, template, result) // Placeholder remains
}

func TestList(t *testing.T) {
	ClearCache()

	keys, err := List("invitation.json")
	require.NoError(t, err)
	assert.Contains(t, keys, "cover")
	assert.Contains(t, keys, "content")
	assert.Contains(t, keys, "location")
}

func TestCaching(t *testing.T) {
	ClearCache()

	prompt1, err := Get("invitation.json", "cover")
	require.NoError(t, err)

	prompt2, err := Get("invitation.json", "cover")
	require.NoError(t, err)

	assert.Equal(t, prompt1, prompt2)
}
