package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTexts() map[string]any {
	return map[string]any{
		"greeting":   "Dear friends and family,",
		"invitation": "Minho and Seoyeon invite you on June 6th at 1pm at The Orchard House.",
		"location":   "Two blocks north of the Hapjeong station, exit 3.",
		"closing":    "With love and gratitude.",
	}
}

func TestValidateTexts_Valid(t *testing.T) {
	assert.NoError(t, ValidateTexts(validTexts()))
}

func TestValidateTexts_MissingField(t *testing.T) {
	doc := validTexts()
	delete(doc, "closing")

	err := ValidateTexts(doc)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Len(t, validationErr.Errors, 1)
	assert.Contains(t, validationErr.Errors[0].Message, "closing")
}

func TestValidateTexts_EmptyField(t *testing.T) {
	doc := validTexts()
	doc["greeting"] = ""

	err := ValidateTexts(doc)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "greeting", validationErr.Errors[0].Field)
}

func TestValidateTexts_WrongType(t *testing.T) {
	doc := validTexts()
	doc["invitation"] = 42

	err := ValidateTexts(doc)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "invitation", validationErr.Errors[0].Field)
}

func TestValidateTexts_ExtraFieldsAllowed(t *testing.T) {
	doc := validTexts()
	doc["note"] = "anything"

	assert.NoError(t, ValidateTexts(doc))
}

func TestValidateJSONString_BadSchema(t *testing.T) {
	err := ValidateJSONString("{not a schema", "{}")
	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}
