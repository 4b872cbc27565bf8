package parsing

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"language tag", "```javascript\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"surrounding whitespace", "  \n{\"a\": 1}\n  ", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONBlock(tt.input))
		})
	}
}

func TestNormalize_DirectObject(t *testing.T) {
	got, err := Normalize(`{"greeting": "hello", "count": 2}`)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["greeting"])
	assert.Equal(t, float64(2), got["count"])
}

func TestNormalize_FencedEqualsBare(t *testing.T) {
	bare, err := Normalize(`{"greeting": "hello"}`)
	require.NoError(t, err)

	fenced, err := Normalize("```json\n{\"greeting\": \"hello\"}\n```")
	require.NoError(t, err)

	assert.Equal(t, bare, fenced)
}

func TestNormalize_ProseAroundObject(t *testing.T) {
	raw := "Here is the invitation copy you asked for:\n{\"greeting\": \"Dear friends\"}\nLet me know if you need changes."
	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Dear friends", got["greeting"])
}

func TestNormalize_ConcatenatedObjectsMergeLaterWins(t *testing.T) {
	raw := `{"greeting": "first", "closing": "warmly"} {"greeting": "second", "location": "turn left"}`
	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "second", got["greeting"])
	assert.Equal(t, "warmly", got["closing"])
	assert.Equal(t, "turn left", got["location"])
}

func TestNormalize_ConcatenatedSkipsUnparsableSpans(t *testing.T) {
	raw := `{"a": 1} {broken json} {"b": 2}`
	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["a"])
	assert.Equal(t, float64(2), got["b"])
}

func TestNormalize_ArrayFlattening(t *testing.T) {
	raw := `[{"greeting": "hi"}, "loose text", {"closing": "bye", "greeting": "hello"}]`
	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["greeting"])
	assert.Equal(t, "bye", got["closing"])
	assert.Equal(t, "loose text", got["1"])
}

func TestNormalize_ArrayInsideProse(t *testing.T) {
	raw := "Results:\n[{\"greeting\": \"hi\"}]"
	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "hi", got["greeting"])
}

func TestNormalize_BracesInsideStrings(t *testing.T) {
	raw := `{"note": "use {curly} braces"} {"extra": "also \"quoted\" text"}`
	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "use {curly} braces", got["note"])
	assert.Equal(t, `also "quoted" text`, got["extra"])
}

func TestNormalize_Unparsable(t *testing.T) {
	for _, raw := range []string{"", "no json here at all", "{{{", "[1, 2"} {
		_, err := Normalize(raw)
		var unparsable *UnparsableResponseError
		require.True(t, errors.As(err, &unparsable), "input %q", raw)
		assert.Equal(t, raw, unparsable.Raw)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"```json\n{\"greeting\": \"hello\", \"n\": 3}\n```",
		`{"a": 1} {"b": {"nested": true}}`,
		`[{"x": 1}, 42]`,
	}

	for _, raw := range inputs {
		first, err := Normalize(raw)
		require.NoError(t, err)

		serialized, err := json.Marshal(first)
		require.NoError(t, err)

		second, err := Normalize(string(serialized))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}
