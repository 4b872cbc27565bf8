package jobs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/minji/invitation-studio/internal/artifacts"
	"github.com/minji/invitation-studio/internal/config"
	"github.com/minji/invitation-studio/internal/llm"
	"github.com/minji/invitation-studio/internal/observability"
)

// ArtifactSaver persists downloaded batch outputs. *artifacts.Store satisfies
// it.
type ArtifactSaver interface {
	Save(data []byte, kind, ext string) (*artifacts.Saved, error)
}

// credential is the auth header a backend expects.
type credential struct {
	header string
	value  string
}

func bearerCred(key string) credential {
	return credential{header: "Authorization", value: "Bearer " + key}
}

func apiKeyCred(key string) credential {
	return credential{header: "x-goog-api-key", value: key}
}

// Tracker submits jobs to external mesh and video backends and relays their
// status. Submissions rejected for recoverable reasons fall back to a
// simulated local job.
type Tracker struct {
	cfg          *config.Config
	httpClient   *http.Client
	registry     *mockRegistry
	kinds        *gocache.Cache // real task ID -> Kind, for routing polls
	batchResults *gocache.Cache // real batch ID -> saved result URLs
	store        ArtifactSaver
	metrics      *observability.Metrics
	logger       *zap.Logger
	backoff      time.Duration
}

// NewTracker builds a Tracker. store is required for poster batch results;
// metrics may be nil.
func NewTracker(cfg *config.Config, store ArtifactSaver, metrics *observability.Metrics, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		registry:     newMockRegistry(),
		kinds:        gocache.New(24*time.Hour, time.Hour),
		batchResults: gocache.New(24*time.Hour, time.Hour),
		store:        store,
		metrics:      metrics,
		logger:       logger,
		backoff:      500 * time.Millisecond,
	}
}

// SubmitMesh starts an image-to-3d build for a previously generated image.
// Returns the task ID to poll.
func (t *Tracker) SubmitMesh(ctx context.Context, imageRef string) (string, error) {
	key, err := t.cfg.RequireMeshKey()
	if err != nil {
		t.logger.Warn("mesh credential missing, using simulated job", zap.Error(err))
		return t.mockSubmit(KindMesh), nil
	}

	payload := map[string]any{
		"image_url":      imageRef,
		"should_texture": true,
	}
	body, status, err := t.postJSON(ctx, t.cfg.MeshBaseURL+"/image-to-3d", bearerCred(key), payload)
	if fallback, reason := t.submissionFallback(status, err); fallback {
		t.logger.Warn("mesh submission not accepted, using simulated job",
			zap.Int("status", status), zap.String("reason", reason))
		return t.mockSubmit(KindMesh), nil
	}
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &SubmissionError{Kind: KindMesh, StatusCode: status, Detail: truncate(string(body), 200)}
	}

	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Result == "" {
		return "", fmt.Errorf("mesh submission returned no task ID: %w", err)
	}

	t.kinds.Set(resp.Result, KindMesh, gocache.DefaultExpiration)
	t.countSubmission(KindMesh, "real")
	return resp.Result, nil
}

// SubmitVideo starts a video render from a composed prompt. Returns the task
// ID to poll.
func (t *Tracker) SubmitVideo(ctx context.Context, prompt string, seconds int) (string, error) {
	key, err := t.cfg.RequireVideoKey()
	if err != nil {
		t.logger.Warn("video credential missing, using simulated job", zap.Error(err))
		return t.mockSubmit(KindVideo), nil
	}
	if seconds <= 0 {
		seconds = 8
	}

	payload := map[string]any{
		"model":   "sora-2",
		"prompt":  prompt,
		"seconds": fmt.Sprintf("%d", seconds),
	}
	body, status, err := t.postJSON(ctx, t.cfg.VideoBaseURL+"/videos", bearerCred(key), payload)
	if fallback, reason := t.submissionFallback(status, err); fallback {
		t.logger.Warn("video submission not accepted, using simulated job",
			zap.Int("status", status), zap.String("reason", reason))
		return t.mockSubmit(KindVideo), nil
	}
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &SubmissionError{Kind: KindVideo, StatusCode: status, Detail: truncate(string(body), 200)}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return "", fmt.Errorf("video submission returned no task ID: %w", err)
	}

	t.kinds.Set(resp.ID, KindVideo, gocache.DefaultExpiration)
	t.countSubmission(KindVideo, "real")
	return resp.ID, nil
}

// SubmitPosterBatch starts one batch job that composites the couple into each
// poster. Requests are keyed poster-0..N so results can be matched back.
// Returns the batch job name to poll; names contain slashes.
func (t *Tracker) SubmitPosterBatch(ctx context.Context, prompt string, couple llm.Reference, posters []llm.Reference) (string, error) {
	if len(posters) == 0 {
		return "", fmt.Errorf("poster batch needs at least one poster image")
	}
	key, err := t.cfg.RequireGeminiKey()
	if err != nil {
		t.logger.Warn("batch credential missing, using simulated job", zap.Error(err))
		return t.mockSubmit(KindBatch), nil
	}

	entries := make([]map[string]any, 0, len(posters))
	for i, poster := range posters {
		entries = append(entries, map[string]any{
			"metadata": map[string]string{"key": fmt.Sprintf("poster-%d", i)},
			"request": map[string]any{
				"contents": []map[string]any{{
					"parts": []map[string]any{
						{"text": prompt},
						inlinePart(couple),
						inlinePart(poster),
					},
				}},
				"generation_config": map[string]any{
					"response_modalities": []string{"IMAGE"},
				},
			},
		})
	}
	payload := map[string]any{
		"batch": map[string]any{
			"display_name": fmt.Sprintf("poster_batch_%d", time.Now().Unix()),
			"input_config": map[string]any{
				"requests": map[string]any{"requests": entries},
			},
		},
	}

	url := t.cfg.BatchBaseURL + "/models/" + t.cfg.BatchModel + ":batchGenerateContent"
	body, status, err := t.postJSON(ctx, url, apiKeyCred(key), payload)
	if fallback, reason := t.submissionFallback(status, err); fallback {
		t.logger.Warn("batch submission not accepted, using simulated job",
			zap.Int("status", status), zap.String("reason", reason))
		return t.mockSubmit(KindBatch), nil
	}
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &SubmissionError{Kind: KindBatch, StatusCode: status, Detail: truncate(string(body), 200)}
	}

	var resp struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Name == "" {
		return "", fmt.Errorf("batch submission returned no job name: %w", err)
	}

	t.kinds.Set(resp.Name, KindBatch, gocache.DefaultExpiration)
	t.countSubmission(KindBatch, "real")
	return resp.Name, nil
}

func inlinePart(ref llm.Reference) map[string]any {
	return map[string]any{
		"inline_data": map[string]string{
			"mime_type": "image/" + ref.Format,
			"data":      base64.StdEncoding.EncodeToString(ref.Data),
		},
	}
}

// Poll returns the current status of a task, advancing simulated jobs by one
// step.
func (t *Tracker) Poll(ctx context.Context, taskID string) (*AsyncJobStatus, error) {
	if t.metrics != nil {
		t.metrics.JobPolls.Inc()
	}
	if isMockID(taskID) {
		return t.registry.poll(taskID)
	}

	kind, found := t.kinds.Get(taskID)
	if !found {
		return nil, &UnknownTaskError{ID: taskID}
	}
	switch kind.(Kind) {
	case KindMesh:
		return t.pollMesh(ctx, taskID)
	case KindBatch:
		return t.pollBatch(ctx, taskID)
	default:
		return t.pollVideo(ctx, taskID)
	}
}

// FetchResult returns the artifact locations of a finished task. Fetching a
// simulated job's result removes it from the registry.
func (t *Tracker) FetchResult(ctx context.Context, taskID string) (map[string]string, error) {
	if isMockID(taskID) {
		return t.registry.result(taskID)
	}

	status, err := t.Poll(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !status.State.Terminal() {
		return nil, &NotTerminalError{ID: taskID, State: status.State}
	}
	if status.State != StateSucceeded {
		return nil, fmt.Errorf("task %s ended in state %s: %s", taskID, status.State, status.Detail)
	}
	return status.ResultURLs, nil
}

func (t *Tracker) mockSubmit(kind Kind) string {
	t.countSubmission(kind, "mock")
	return t.registry.create(kind)
}

func (t *Tracker) countSubmission(kind Kind, mode string) {
	if t.metrics != nil {
		t.metrics.JobSubmissions.WithLabelValues(string(kind), mode).Inc()
	}
}

// submissionFallback decides whether a failed submission should become a
// simulated job. Billing and auth rejections, rate limits, server faults,
// and unreachable hosts all qualify; other rejections are terminal.
func (t *Tracker) submissionFallback(status int, err error) (bool, string) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, ""
		}
		return true, err.Error()
	}
	switch {
	case status == 401, status == 402, status == 403, status == 429:
		return true, fmt.Sprintf("status %d", status)
	case status >= 500:
		return true, fmt.Sprintf("status %d", status)
	}
	return false, ""
}

func (t *Tracker) pollMesh(ctx context.Context, taskID string) (*AsyncJobStatus, error) {
	key, err := t.cfg.RequireMeshKey()
	if err != nil {
		return nil, err
	}

	body, status, err := t.getJSON(ctx, t.cfg.MeshBaseURL+"/image-to-3d/"+taskID, bearerCred(key))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &UnknownTaskError{ID: taskID}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("mesh status poll returned %d: %s", status, truncate(string(body), 200))
	}

	var resp struct {
		Status    string            `json:"status"`
		Progress  int               `json:"progress"`
		ModelURLs map[string]string `json:"model_urls"`
		TaskError struct {
			Message string `json:"message"`
		} `json:"task_error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding mesh status: %w", err)
	}

	result := &AsyncJobStatus{
		ID:       taskID,
		Kind:     KindMesh,
		Progress: resp.Progress,
		Detail:   resp.TaskError.Message,
	}
	switch resp.Status {
	case "PENDING":
		result.State = StateQueued
	case "IN_PROGRESS":
		result.State = StateRunning
	case "SUCCEEDED":
		result.State = StateSucceeded
		result.Progress = progressDone
		result.ResultURLs = resp.ModelURLs
	case "CANCELED":
		result.State = StateCanceled
	default:
		result.State = StateFailed
	}
	return result, nil
}

func (t *Tracker) pollVideo(ctx context.Context, taskID string) (*AsyncJobStatus, error) {
	key, err := t.cfg.RequireVideoKey()
	if err != nil {
		return nil, err
	}

	body, status, err := t.getJSON(ctx, t.cfg.VideoBaseURL+"/videos/"+taskID, bearerCred(key))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &UnknownTaskError{ID: taskID}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("video status poll returned %d: %s", status, truncate(string(body), 200))
	}

	var resp struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Error    struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding video status: %w", err)
	}

	result := &AsyncJobStatus{
		ID:       taskID,
		Kind:     KindVideo,
		Progress: resp.Progress,
		Detail:   resp.Error.Message,
	}
	switch resp.Status {
	case "queued":
		result.State = StateQueued
	case "in_progress":
		result.State = StateRunning
	case "completed":
		result.State = StateSucceeded
		result.Progress = progressDone
		result.ResultURLs = map[string]string{
			"video": t.cfg.VideoBaseURL + "/videos/" + taskID + "/content",
		}
	default:
		result.State = StateFailed
	}
	return result, nil
}

// batchOutput is the inlined-response shape of a finished batch job.
type batchOutput struct {
	InlinedResponses struct {
		InlinedResponses []struct {
			Metadata struct {
				Key string `json:"key"`
			} `json:"metadata"`
			Response struct {
				Candidates []struct {
					Content struct {
						Parts []struct {
							InlineData *struct {
								MimeType string `json:"mimeType"`
								Data     string `json:"data"`
							} `json:"inlineData"`
						} `json:"parts"`
					} `json:"content"`
				} `json:"candidates"`
			} `json:"response"`
		} `json:"inlinedResponses"`
	} `json:"inlinedResponses"`
}

func (t *Tracker) pollBatch(ctx context.Context, taskID string) (*AsyncJobStatus, error) {
	key, err := t.cfg.RequireGeminiKey()
	if err != nil {
		return nil, err
	}

	body, status, err := t.getJSON(ctx, t.cfg.BatchBaseURL+"/"+taskID, apiKeyCred(key))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &UnknownTaskError{ID: taskID}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("batch status poll returned %d: %s", status, truncate(string(body), 200))
	}

	var resp struct {
		Metadata struct {
			State string `json:"state"`
		} `json:"metadata"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Response batchOutput `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding batch status: %w", err)
	}

	result := &AsyncJobStatus{
		ID:     taskID,
		Kind:   KindBatch,
		Detail: resp.Error.Message,
	}
	// states arrive as BATCH_STATE_* on the wire and JOB_STATE_* in older
	// responses; match on the suffix
	switch state := resp.Metadata.State; {
	case strings.HasSuffix(state, "_PENDING"):
		result.State = StateQueued
	case strings.HasSuffix(state, "_RUNNING"):
		result.State = StateRunning
		result.Progress = 50
	case strings.HasSuffix(state, "_SUCCEEDED"):
		result.State = StateSucceeded
		result.Progress = progressDone
		urls, err := t.batchResultURLs(taskID, &resp.Response)
		if err != nil {
			return nil, err
		}
		result.ResultURLs = urls
	case strings.HasSuffix(state, "_CANCELLED"):
		result.State = StateCanceled
	default:
		result.State = StateFailed
	}
	return result, nil
}

// batchResultURLs saves the inlined poster images once and serves the same
// URLs on every later poll of the job.
func (t *Tracker) batchResultURLs(taskID string, out *batchOutput) (map[string]string, error) {
	if cached, found := t.batchResults.Get(taskID); found {
		return cached.(map[string]string), nil
	}
	if t.store == nil {
		return nil, fmt.Errorf("no artifact store configured for batch results")
	}

	urls := make(map[string]string)
	for i, inlined := range out.InlinedResponses.InlinedResponses {
		key := inlined.Metadata.Key
		if key == "" {
			key = fmt.Sprintf("poster-%d", i)
		}
		for _, cand := range inlined.Response.Candidates {
			for _, part := range cand.Content.Parts {
				if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "image/") {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decoding batch image %s: %w", key, err)
				}
				saved, err := t.store.Save(data, "poster", strings.TrimPrefix(part.InlineData.MimeType, "image/"))
				if err != nil {
					return nil, fmt.Errorf("persisting batch image %s: %w", key, err)
				}
				urls[key] = saved.URL
			}
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("batch job %s succeeded but returned no images", taskID)
	}

	t.batchResults.Set(taskID, urls, gocache.DefaultExpiration)
	return urls, nil
}

// postJSON sends an authorized POST, retrying once on server faults and
// rate limits. Returns the response body and status code.
func (t *Tracker) postJSON(ctx context.Context, url string, cred credential, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	return t.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(cred.header, cred.value)
		return req, nil
	})
}

func (t *Tracker) getJSON(ctx context.Context, url string, cred credential) ([]byte, int, error) {
	return t.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(cred.header, cred.value)
		return req, nil
	})
}

func (t *Tracker) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, int, error) {
	var (
		body    []byte
		status  int
		lastErr error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := build()
		if err != nil {
			return nil, 0, err
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				lastErr = err
			} else {
				status = resp.StatusCode
				if status != 429 && status < 500 {
					return body, status, nil
				}
				lastErr = nil
			}
		}

		if attempt < 2 {
			select {
			case <-time.After(t.backoff):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, 0, lastErr
	}
	return body, status, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
