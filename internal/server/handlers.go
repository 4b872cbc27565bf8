package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/llm"
	"github.com/minji/invitation-studio/internal/parsing"
	"github.com/minji/invitation-studio/internal/pipeline"
	"github.com/minji/invitation-studio/internal/prompts"
	"github.com/minji/invitation-studio/internal/schemas"
)

const maxUploadBytes = 32 << 20

var validate = validator.New()

// handleGenerateImage composes a single image from 2-3 reference photos.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.errorResponse(w, &ErrBadRequest{Message: "expected multipart form: " + err.Error()})
		return
	}

	var refs []llm.Reference
	for _, field := range []string{"image1", "image2", "image3"} {
		ref, present, err := readImagePart(r, field)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		if present {
			refs = append(refs, ref)
		}
	}
	if len(refs) < 2 {
		s.errorResponse(w, &ErrBadRequest{Message: "at least two reference images are required (image1, image2)"})
		return
	}

	prompt, err := prompts.Resolve("invitation.json", "compose", map[string]string{
		"Instructions": r.FormValue("instructions"),
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	artifact, err := s.deps.Images.Generate(r.Context(), generation.Request{
		Prompt:     prompt,
		References: refs,
		Modality:   generation.ModalityImage,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	saved, err := s.deps.Store.Save(artifact.Data, "composed", artifact.Format)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "success",
		"image_ref": saved.URL,
	})
}

type textRequest struct {
	GroomName   string `json:"groom_name" validate:"required"`
	BrideName   string `json:"bride_name" validate:"required"`
	Venue       string `json:"venue" validate:"required"`
	Address     string `json:"address"`
	WeddingDate string `json:"wedding_date" validate:"required"`
	WeddingTime string `json:"wedding_time"`
	Tone        string `json:"tone"`
}

// handleGenerateText produces the card copy on its own, without rendering
// any pages.
func (s *Server) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, &ErrBadRequest{Message: "invalid JSON body: " + err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		s.errorResponse(w, err)
		return
	}

	texts, err := s.generateTexts(r.Context(), map[string]string{
		"GroomName":   req.GroomName,
		"BrideName":   req.BrideName,
		"Venue":       req.Venue,
		"Address":     req.Address,
		"WeddingDate": req.WeddingDate,
		"WeddingTime": req.WeddingTime,
		"Tone":        req.Tone,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"texts": texts},
	})
}

// handleGeneratePipeline runs the full chained card generation and returns
// the best-effort envelope: success is true even when individual pages
// failed, each failed page carrying a placeholder ref.
func (s *Server) handleGeneratePipeline(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseCardForm(w, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	run, err := s.deps.Runner.Run(r.Context(), pipeline.DefaultInvitationStages(), req, nil)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, pipelineEnvelope(run))
}

// handleGeneratePipelineStream is handleGeneratePipeline over SSE: progress
// events while the run advances, then a final complete event.
func (s *Server) handleGeneratePipelineStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseCardForm(w, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	run, err := s.deps.Runner.Run(r.Context(), pipeline.DefaultInvitationStages(), req, func(event pipeline.ProgressEvent) {
		sse.WriteEvent("progress", event) //nolint:errcheck
	})
	if err != nil {
		sse.WriteError(err.Error())
		return
	}

	sse.WriteComplete(pipelineEnvelope(run))
}

type meshRequest struct {
	ImageRef string `json:"image_ref" validate:"required"`
}

// handleGenerate3D submits an image-to-3d build and returns the task ID to
// poll.
func (s *Server) handleGenerate3D(w http.ResponseWriter, r *http.Request) {
	var req meshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, &ErrBadRequest{Message: "invalid JSON body: " + err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		s.errorResponse(w, err)
		return
	}

	taskID, err := s.deps.Jobs.SubmitMesh(r.Context(), req.ImageRef)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleGenerateVideo analyzes the uploaded photos, composes a video prompt,
// and submits the render job.
func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.errorResponse(w, &ErrBadRequest{Message: "expected multipart form: " + err.Error()})
		return
	}

	couple, present, err := readImagePart(r, "couple_photo")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if !present {
		s.errorResponse(w, &ErrBadRequest{Message: "couple_photo is required"})
		return
	}
	background, hasBackground, err := readImagePart(r, "background_photo")
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	coupleDesc := s.describeImage(r.Context(), "analyze_couple", couple,
		"a couple in wedding attire, smiling")
	backgroundDesc := "a softly lit outdoor wedding venue"
	if hasBackground {
		backgroundDesc = s.describeImage(r.Context(), "analyze_background", background, backgroundDesc)
	}

	seconds, _ := strconv.Atoi(r.FormValue("duration"))
	prompt, err := prompts.Resolve("video.json", "compose_video", map[string]string{
		"Duration":              strconv.Itoa(normalizeDuration(seconds)),
		"CoupleDescription":     coupleDesc,
		"BackgroundDescription": backgroundDesc,
		"Theme":                 defaultString(r.FormValue("theme"), "romantic"),
		"Action":                defaultString(r.FormValue("action"), "walk hand in hand toward the camera"),
		"Camera":                defaultString(r.FormValue("camera"), "slow dolly in"),
		"Dialogue":              r.FormValue("dialogue"),
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	taskID, err := s.deps.Jobs.SubmitVideo(r.Context(), prompt, normalizeDuration(seconds))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleGeneratePoster submits one batch job that composites the couple into
// each uploaded movie poster.
func (s *Server) handleGeneratePoster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.errorResponse(w, &ErrBadRequest{Message: "expected multipart form: " + err.Error()})
		return
	}

	couple, present, err := readImagePart(r, "couple_photo")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if !present {
		s.errorResponse(w, &ErrBadRequest{Message: "couple_photo is required"})
		return
	}

	posters, err := readImageParts(r, "posters")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if len(posters) == 0 {
		s.errorResponse(w, &ErrBadRequest{Message: "at least one posters file is required"})
		return
	}

	prompt := r.FormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		prompt, err = prompts.Get("poster.json", "parody")
		if err != nil {
			s.errorResponse(w, err)
			return
		}
	}

	taskID, err := s.deps.Jobs.SubmitPosterBatch(r.Context(), prompt, couple, posters)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleStatus relays the current status of an async job.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Jobs.Poll(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

// handleResult returns the artifact locations of a finished job.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	urls, err := s.deps.Jobs.FetchResult(r.Context(), taskID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success":     true,
		"task_id":     taskID,
		"result_urls": urls,
	})
}

// generateTexts runs the copy generation and validates the result. Unlike
// the pipeline's internal fallback, the standalone endpoint surfaces errors.
func (s *Server) generateTexts(ctx context.Context, vars map[string]string) (pipeline.CardTexts, error) {
	prompt, err := prompts.Resolve("texts.json", "generate_texts", vars)
	if err != nil {
		return pipeline.CardTexts{}, err
	}

	artifact, err := s.deps.Texts.Generate(ctx, generation.Request{
		Prompt:   prompt,
		Modality: generation.ModalityJSON,
	})
	if err != nil {
		return pipeline.CardTexts{}, err
	}

	doc, err := parsing.Normalize(artifact.Text)
	if err != nil {
		return pipeline.CardTexts{}, err
	}
	if err := schemas.ValidateTexts(doc); err != nil {
		return pipeline.CardTexts{}, err
	}

	str := func(key string) string {
		v, _ := doc[key].(string)
		return v
	}
	return pipeline.CardTexts{
		Greeting:   str("greeting"),
		Invitation: str("invitation"),
		Location:   str("location"),
		Closing:    str("closing"),
	}, nil
}

// describeImage asks the text backend to describe a reference photo,
// degrading to a stock description if the call fails.
func (s *Server) describeImage(ctx context.Context, promptKey string, ref llm.Reference, fallback string) string {
	prompt, err := prompts.Get("video.json", promptKey)
	if err != nil {
		return fallback
	}
	artifact, err := s.deps.Texts.Generate(ctx, generation.Request{
		Prompt:     prompt,
		References: []llm.Reference{ref},
		Modality:   generation.ModalityText,
	})
	if err != nil {
		s.logger.Warn("image analysis failed, using stock description",
			zap.String("prompt", promptKey), zap.Error(err))
		return fallback
	}
	return strings.TrimSpace(artifact.Text)
}

// parseCardForm reads the multipart pipeline request: card fields, reference
// images, and optional per-page prompt overrides (prompt_1, prompt_2, ...).
func (s *Server) parseCardForm(w http.ResponseWriter, r *http.Request) (*pipeline.GenerationRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, &ErrBadRequest{Message: "expected multipart form: " + err.Error()}
	}

	req := &pipeline.GenerationRequest{
		GroomName:    r.FormValue("groom_name"),
		BrideName:    r.FormValue("bride_name"),
		Venue:        r.FormValue("venue"),
		Address:      r.FormValue("address"),
		WeddingDate:  r.FormValue("wedding_date"),
		WeddingTime:  r.FormValue("wedding_time"),
		Tone:         r.FormValue("tone"),
		BorderDesign: r.FormValue("border_design"),
	}

	couple, present, err := readImagePart(r, "couple_photo")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &ErrBadRequest{Message: "couple_photo is required"}
	}
	req.CouplePhoto = couple

	style, present, err := readImagePart(r, "style_image")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &ErrBadRequest{Message: "style_image is required"}
	}
	req.StyleImage = style

	if mapImage, present, err := readImagePart(r, "map_image"); err != nil {
		return nil, err
	} else if present {
		req.MapImage = &mapImage
	}

	for position := 1; position <= len(pipeline.DefaultInvitationStages()); position++ {
		if override := r.FormValue(fmt.Sprintf("prompt_%d", position)); override != "" {
			if req.PromptOverrides == nil {
				req.PromptOverrides = make(map[int]string)
			}
			req.PromptOverrides[position] = override
		}
	}

	if err := req.Validate(); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			return nil, err
		}
		return nil, &ErrBadRequest{Message: err.Error()}
	}
	return req, nil
}

func pipelineEnvelope(run *pipeline.PipelineRun) map[string]any {
	return map[string]any{
		"success": true,
		"pages":   run.Results,
		"texts":   run.Texts,
	}
}

// readImagePart reads one uploaded image. Returns present=false when the
// field is absent.
func readImagePart(r *http.Request, field string) (llm.Reference, bool, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return llm.Reference{}, false, nil
		}
		return llm.Reference{}, false, &ErrBadRequest{Message: fmt.Sprintf("reading %s: %v", field, err)}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return llm.Reference{}, false, &ErrBadRequest{Message: fmt.Sprintf("reading %s: %v", field, err)}
	}
	if len(data) == 0 {
		return llm.Reference{}, false, &ErrBadRequest{Message: field + " is empty"}
	}

	return llm.Reference{Format: imageFormat(header), Data: data}, true, nil
}

// readImageParts reads every upload under a repeated field name.
func readImageParts(r *http.Request, field string) ([]llm.Reference, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var refs []llm.Reference
	for _, header := range r.MultipartForm.File[field] {
		file, err := header.Open()
		if err != nil {
			return nil, &ErrBadRequest{Message: fmt.Sprintf("reading %s: %v", field, err)}
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, &ErrBadRequest{Message: fmt.Sprintf("reading %s: %v", field, err)}
		}
		if len(data) == 0 {
			return nil, &ErrBadRequest{Message: field + " contains an empty file"}
		}
		refs = append(refs, llm.Reference{Format: imageFormat(header), Data: data})
	}
	return refs, nil
}

// imageFormat derives the bare image format from the upload metadata.
func imageFormat(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		return strings.TrimPrefix(ct, "image/")
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".webp":
		return "webp"
	default:
		return "png"
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func normalizeDuration(seconds int) int {
	if seconds <= 0 {
		return 8
	}
	return seconds
}
