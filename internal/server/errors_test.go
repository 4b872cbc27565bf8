package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/minji/invitation-studio/internal/config"
	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/jobs"
	"github.com/minji/invitation-studio/internal/parsing"
	"github.com/minji/invitation-studio/internal/prompts"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", &ErrBadRequest{Message: "nope"}, http.StatusBadRequest},
		{"template not found", &prompts.TemplateNotFoundError{File: "x.json"}, http.StatusBadRequest},
		{"unknown task", &jobs.UnknownTaskError{ID: "t"}, http.StatusNotFound},
		{"not terminal", &jobs.NotTerminalError{ID: "t", State: jobs.StateRunning}, http.StatusConflict},
		{"missing credential", &config.MissingCredentialError{Var: "GEMINI_API_KEY"}, http.StatusServiceUnavailable},
		{"terminal submission", &jobs.SubmissionError{Kind: jobs.KindMesh, StatusCode: 400}, http.StatusBadGateway},
		{"no artifact", &generation.NoArtifactProducedError{Backend: "m"}, http.StatusBadGateway},
		{"unparsable response", &parsing.UnparsableResponseError{}, http.StatusBadGateway},
		{"upstream policy rejection", &googleapi.Error{Code: 400, Message: "blocked"}, http.StatusBadGateway},
		{"upstream rate limit", &googleapi.Error{Code: 429}, http.StatusBadGateway},
		{"wrapped upstream fault", fmt.Errorf("generating page: %w", &googleapi.Error{Code: 403}), http.StatusBadGateway},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
