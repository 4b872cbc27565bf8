package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minji/invitation-studio/internal/artifacts"
	"github.com/minji/invitation-studio/internal/generation"
	"github.com/minji/invitation-studio/internal/llm"
)

type scriptedGen struct {
	requests []generation.Request
	fn       func(call int, req generation.Request) (*generation.Artifact, error)
}

func (s *scriptedGen) Generate(_ context.Context, req generation.Request) (*generation.Artifact, error) {
	s.requests = append(s.requests, req)
	return s.fn(len(s.requests), req)
}

type fakeStore struct {
	saves []string
	fail  bool
}

func (f *fakeStore) Save(data []byte, kind, ext string) (*artifacts.Saved, error) {
	if f.fail {
		return nil, errors.New("disk full")
	}
	name := fmt.Sprintf("%s_%d.%s", kind, len(f.saves), ext)
	f.saves = append(f.saves, name)
	return &artifacts.Saved{Filename: name, URL: "http://localhost:8000/content/" + name}, nil
}

func okImages() *scriptedGen {
	return &scriptedGen{fn: func(call int, _ generation.Request) (*generation.Artifact, error) {
		return &generation.Artifact{Data: []byte(fmt.Sprintf("img%d", call)), Format: "png"}, nil
	}}
}

func okTexts() *scriptedGen {
	return &scriptedGen{fn: func(int, generation.Request) (*generation.Artifact, error) {
		return &generation.Artifact{Text: `{"greeting":"Dear friends","invitation":"Join us","location":"Exit 3","closing":"With love"}`}, nil
	}}
}

func testRequest() *GenerationRequest {
	return &GenerationRequest{
		GroomName:    "Minho",
		BrideName:    "Seoyeon",
		Venue:        "The Orchard House",
		Address:      "12 Woryn-ro, Mapo-gu",
		WeddingDate:  "2026-06-06",
		WeddingTime:  "1:00 PM",
		Tone:         "warm",
		BorderDesign: "pressed wildflowers",
		CouplePhoto:  llm.Reference{Format: "jpeg", Data: []byte("couple")},
		StyleImage:   llm.Reference{Format: "png", Data: []byte("style")},
	}
}

func TestRun_AllStagesSucceed(t *testing.T) {
	images, texts, store := okImages(), okTexts(), &fakeStore{}
	o := NewOrchestrator(images, texts, store, nil, nil)

	run, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.NoError(t, err)

	require.Len(t, run.Results, 3)
	for i, result := range run.Results {
		assert.Equal(t, i+1, result.Position)
		assert.True(t, result.Succeeded)
		assert.Contains(t, result.ArtifactRef, "/content/")
	}
	assert.Equal(t, "Dear friends", run.Texts.Greeting)
	assert.Equal(t, "With love", run.Texts.Closing)
	assert.Len(t, store.saves, 3)
}

func TestRun_InputThreading(t *testing.T) {
	images, texts := okImages(), okTexts()
	o := NewOrchestrator(images, texts, &fakeStore{}, nil, nil)

	_, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.NoError(t, err)

	require.Len(t, images.requests, 3)
	// cover gets the fixed references, later pages get the previous output
	assert.Len(t, images.requests[0].References, 2)
	require.Len(t, images.requests[1].References, 1)
	assert.Equal(t, []byte("img1"), images.requests[1].References[0].Data)
	require.Len(t, images.requests[2].References, 1)
	assert.Equal(t, []byte("img2"), images.requests[2].References[0].Data)
}

func TestRun_FailureIsolation(t *testing.T) {
	images := &scriptedGen{fn: func(call int, _ generation.Request) (*generation.Artifact, error) {
		if call == 2 {
			return nil, errors.New("upstream rejected")
		}
		return &generation.Artifact{Data: []byte(fmt.Sprintf("img%d", call)), Format: "png"}, nil
	}}
	o := NewOrchestrator(images, okTexts(), &fakeStore{}, nil, nil)

	run, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.NoError(t, err)

	require.Len(t, run.Results, 3)
	assert.True(t, run.Results[0].Succeeded)
	assert.False(t, run.Results[1].Succeeded)
	assert.Equal(t, PlaceholderRef, run.Results[1].ArtifactRef)
	assert.Contains(t, run.Results[1].Detail, "upstream rejected")
	assert.True(t, run.Results[2].Succeeded)

	// stage 3 ran with NO input, not the placeholder and not page 1
	require.Len(t, images.requests, 3)
	assert.Empty(t, images.requests[2].References)
}

func TestRun_AllStagesAttemptedAfterFailures(t *testing.T) {
	images := &scriptedGen{fn: func(int, generation.Request) (*generation.Artifact, error) {
		return nil, errors.New("down")
	}}
	o := NewOrchestrator(images, okTexts(), &fakeStore{}, nil, nil)

	run, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.NoError(t, err)

	require.Len(t, run.Results, 3)
	for _, result := range run.Results {
		assert.False(t, result.Succeeded)
		assert.Equal(t, PlaceholderRef, result.ArtifactRef)
	}
	assert.Len(t, images.requests, 3)
}

func TestRun_TextsDegradeGracefully(t *testing.T) {
	texts := &scriptedGen{fn: func(int, generation.Request) (*generation.Artifact, error) {
		return nil, errors.New("quota exhausted")
	}}
	o := NewOrchestrator(okImages(), texts, &fakeStore{}, nil, nil)

	run, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, CardTexts{}, run.Texts)
	require.Len(t, run.Results, 3)
	assert.True(t, run.Results[0].Succeeded)
}

func TestRun_UnparsableTextsDegrade(t *testing.T) {
	texts := &scriptedGen{fn: func(int, generation.Request) (*generation.Artifact, error) {
		return &generation.Artifact{Text: "sorry, I cannot help with that"}, nil
	}}
	o := NewOrchestrator(okImages(), texts, &fakeStore{}, nil, nil)

	run, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, CardTexts{}, run.Texts)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	o := NewOrchestrator(okImages(), okTexts(), &fakeStore{fail: true}, nil, nil)

	_, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting page 1")
}

func TestRun_PromptOverride(t *testing.T) {
	images := okImages()
	req := testRequest()
	req.PromptOverrides = map[int]string{2: "custom second page prompt"}
	o := NewOrchestrator(images, okTexts(), &fakeStore{}, nil, nil)

	_, err := o.Run(context.Background(), DefaultInvitationStages(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom second page prompt", images.requests[1].Prompt)
}

func TestRun_ProgressEvents(t *testing.T) {
	var events []ProgressEvent
	o := NewOrchestrator(okImages(), okTexts(), &fakeStore{}, nil, nil)

	_, err := o.Run(context.Background(), DefaultInvitationStages(), testRequest(), func(e ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, "texts", events[0].Category)
	assert.Equal(t, "complete", events[len(events)-1].Category)

	var positions []int
	for _, e := range events {
		if e.Category == "stage" && e.Content != nil {
			positions = append(positions, e.Position)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, positions)
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(okImages(), okTexts(), &fakeStore{}, nil, nil)
	_, err := o.Run(ctx, DefaultInvitationStages(), testRequest(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateStages(t *testing.T) {
	assert.NoError(t, ValidateStages(DefaultInvitationStages()))
	assert.Error(t, ValidateStages(nil))
	assert.Error(t, ValidateStages([]StageSpec{
		{Position: 1, PromptKey: "cover", InputPolicy: InputPreviousOutput, Kind: "cover"},
	}))
	assert.Error(t, ValidateStages([]StageSpec{
		{Position: 1, PromptKey: "cover", InputPolicy: InputNone, Kind: "cover"},
		{Position: 3, PromptKey: "location", InputPolicy: InputNone, Kind: "location"},
	}))
	assert.Error(t, ValidateStages([]StageSpec{
		{Position: 1, InputPolicy: InputNone, Kind: "cover"},
	}))
}

func TestGenerationRequest_Validate(t *testing.T) {
	req := testRequest()
	require.NoError(t, req.Validate())

	missing := testRequest()
	missing.GroomName = ""
	assert.Error(t, missing.Validate())

	noPhoto := testRequest()
	noPhoto.CouplePhoto = llm.Reference{}
	assert.Error(t, noPhoto.Validate())
}
