// Package server provides the HTTP API for the invitation studio.
package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"google.golang.org/api/googleapi"

	"github.com/minji/invitation-studio/internal/config"
	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/jobs"
	"github.com/minji/invitation-studio/internal/parsing"
	"github.com/minji/invitation-studio/internal/prompts"
	"github.com/minji/invitation-studio/internal/schemas"
)

// ErrBadRequest wraps a client-side request problem (malformed body, missing
// part, bad field).
type ErrBadRequest struct {
	Message string
}

func (e *ErrBadRequest) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		badRequest    *ErrBadRequest
		notFound      *prompts.TemplateNotFoundError
		render        *prompts.TemplateRenderError
		unknownTask   *jobs.UnknownTaskError
		notTerminal   *jobs.NotTerminalError
		submission    *jobs.SubmissionError
		noArtifact    *generation.NoArtifactProducedError
		unparsable    *parsing.UnparsableResponseError
		schemaInvalid *schemas.ValidationError
		missingCred   *config.MissingCredentialError
		upstream      *googleapi.Error
		fieldErrors   validator.ValidationErrors
	)

	switch {
	case errors.As(err, &badRequest),
		errors.As(err, &notFound),
		errors.As(err, &render),
		errors.As(err, &fieldErrors):
		return http.StatusBadRequest
	case errors.As(err, &unknownTask):
		return http.StatusNotFound
	case errors.As(err, &notTerminal):
		return http.StatusConflict
	case errors.As(err, &missingCred):
		return http.StatusServiceUnavailable
	case errors.As(err, &submission),
		errors.As(err, &noArtifact),
		errors.As(err, &unparsable),
		errors.As(err, &schemaInvalid),
		errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
