package vision

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"homeraAi/internal/plans"
	"homeraAi/internal/prompts"
)

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	resp  *genai.GenerateContentResponse
	err   error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: config})
	return f.resp, f.err
}

func (f *fakeGenerator) lastCall(t *testing.T) generateCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func planJSON(t *testing.T, task TaskType, description, quality, resolution string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"interpretation": "Restyle the living room.",
		"homera_ai_api_payload": map[string]any{
			"image_url":         "whatever",
			"task_type":         task,
			"style":             "Scandinavian",
			"objects_to_remove": []string{"clutter"},
			"description":       description,
			"quality":           quality,
			"target_resolution": resolution,
			"consistency_check": true,
		},
	})
	require.NoError(t, err)
	return string(body)
}

func TestGeminiInterpreter_ForcesTierValues(t *testing.T) {
	for _, plan := range plans.All() {
		t.Run(string(plan.ID), func(t *testing.T) {
			gen := &fakeGenerator{resp: textResponse(planJSON(t, TaskRenovation, "Bright room", "DRAFT", "7680x4320"))}
			interp := newGeminiInterpreter(gen, "")

			tp, err := interp.Interpret(context.Background(), Request{Prompt: "Make it 8K please", Tier: string(plan.ID)})
			require.NoError(t, err)
			assert.Equal(t, plan.Quality, tp.Payload.Quality)
			assert.Equal(t, plan.Resolution, tp.Payload.TargetResolution)
			assert.Equal(t, prompts.ImagePlaceholder, tp.Payload.ImageURL)
			assert.Equal(t, TaskRenovation, tp.Payload.TaskType)
		})
	}
}

func TestGeminiInterpreter_RequestShape(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(planJSON(t, TaskStyleTransfer, "Bright room", "HIGH_DETAIL", "2560x1440"))}
	interp := newGeminiInterpreter(gen, "models/gemini-2.5-flash")

	_, err := interp.Interpret(context.Background(), Request{Prompt: "Scandinavian please", Tier: "PREMIUM_2K"})
	require.NoError(t, err)

	call := gen.lastCall(t)
	assert.Equal(t, DefaultInterpreterModel, call.model)
	require.NotNil(t, call.config)
	assert.Equal(t, "application/json", call.config.ResponseMIMEType)
	require.NotNil(t, call.config.Temperature)
	assert.InDelta(t, 0.2, *call.config.Temperature, 1e-6)
	require.NotNil(t, call.config.ResponseSchema)
	assert.ElementsMatch(t, []string{"interpretation", "homera_ai_api_payload"}, call.config.ResponseSchema.Required)
	assert.Len(t, call.config.ResponseSchema.Properties["homera_ai_api_payload"].Properties["task_type"].Enum, 5)

	require.Len(t, call.contents, 1)
	require.Len(t, call.contents[0].Parts, 1)
	assert.Contains(t, call.contents[0].Parts[0].Text, `"2560x1440"`)
}

func TestGeminiInterpreter_UpscaleKeywords(t *testing.T) {
	for _, prompt := range []string{"please upscale", "Enhance this", "improve quality", "SUPER RESOLUTION"} {
		gen := &fakeGenerator{resp: textResponse(planJSON(t, TaskStaging, "Add a sofa", "STANDARD", "1920x1080"))}
		tp, err := newGeminiInterpreter(gen, "").Interpret(context.Background(), Request{Prompt: prompt, Tier: "standard"})
		require.NoError(t, err, prompt)
		assert.Equal(t, TaskUpscale, tp.Payload.TaskType, prompt)
		assert.Equal(t, prompts.UpscaleDescription, tp.Payload.Description, prompt)
	}
}

func TestGeminiInterpreter_ExplicitUpscaleWithoutPrompt(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(planJSON(t, TaskRenovation, "x", "STANDARD", "1920x1080"))}
	tp, err := newGeminiInterpreter(gen, "").Interpret(context.Background(), Request{Tier: "ultra_4k", Upscale: true})
	require.NoError(t, err)
	assert.Equal(t, TaskUpscale, tp.Payload.TaskType)
	assert.Equal(t, prompts.UpscaleDescription, tp.Payload.Description)
	assert.Contains(t, gen.lastCall(t).contents[0].Parts[0].Text, prompts.SmartUpscalePrompt)
}

func TestGeminiInterpreter_Failures(t *testing.T) {
	cases := []struct {
		name string
		gen  *fakeGenerator
		want error
	}{
		{"empty text", &fakeGenerator{resp: textResponse("")}, ErrInterpretation},
		{"malformed json", &fakeGenerator{resp: textResponse("{not json")}, ErrInterpretation},
		{"missing field", &fakeGenerator{resp: textResponse(`{"interpretation":"x","homera_ai_api_payload":{"task_type":"STAGING"}}`)}, ErrInterpretation},
		{"unknown enum", &fakeGenerator{resp: textResponse(planJSON(t, "PAINTING", "x", "STANDARD", "1920x1080"))}, ErrInterpretation},
		{"transport", &fakeGenerator{err: errors.New("dial tcp: connection refused")}, ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newGeminiInterpreter(tc.gen, "").Interpret(context.Background(), Request{Prompt: "stage it", Tier: "standard"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, StageInterpret, failure.Stage)
		})
	}
}

func TestGeminiInterpreter_EmptyPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := newGeminiInterpreter(gen, "").Interpret(context.Background(), Request{Prompt: "   ", Tier: "standard"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, gen.calls)
}

func TestParsePlan_ToleratesCodeFences(t *testing.T) {
	body := "```json\n" + planJSON(t, TaskDeclutter, "Clean room", "STANDARD", "1920x1080") + "\n```"
	tp, err := ParsePlan(body)
	require.NoError(t, err)
	assert.Equal(t, TaskDeclutter, tp.Payload.TaskType)
	assert.Equal(t, []string{"clutter"}, tp.Payload.ObjectsToRemove)
}

func TestHeuristicInterpreter_EndToEndScenario(t *testing.T) {
	tp, err := HeuristicInterpreter{}.Interpret(context.Background(), Request{
		Prompt: "Make this living room Scandinavian, remove clutter",
		Tier:   "premium_2k",
	})
	require.NoError(t, err)
	assert.Equal(t, plans.QualityHighDetail, tp.Payload.Quality)
	assert.Equal(t, "2560x1440", tp.Payload.TargetResolution)
	assert.Contains(t, []TaskType{TaskRenovation, TaskStyleTransfer, TaskDeclutter}, tp.Payload.TaskType)
	assert.Equal(t, "Scandinavian", tp.Payload.Style)
	assert.Equal(t, []string{"clutter"}, tp.Payload.ObjectsToRemove)
	assert.Equal(t, ProfileMid, SelectProfile(tp.Payload.TargetResolution))
}

func TestHeuristicInterpreter_Upscale(t *testing.T) {
	tp, err := HeuristicInterpreter{}.Interpret(context.Background(), Request{Prompt: "enhance please", Tier: "nope"})
	require.NoError(t, err)
	assert.Equal(t, TaskUpscale, tp.Payload.TaskType)
	assert.Equal(t, prompts.UpscaleDescription, tp.Payload.Description)
	assert.Equal(t, "1920x1080", tp.Payload.TargetResolution)
}

func TestSelectProfile(t *testing.T) {
	cases := []struct {
		resolution string
		want       Profile
	}{
		{"1920x1080", ProfileDefault},
		{"2560x1440", ProfileMid},
		{"3840x2160", ProfileHigh},
		{"15369x8640", ProfileHigh},
		{"15360x8640", ProfileHigh},
		{"1440x900", ProfileMid},
		{"", ProfileDefault},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SelectProfile(tc.resolution), tc.resolution)
	}
}

func imageResponse(data []byte, mime string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is your room."},
				{InlineData: &genai.Blob{Data: data, MIMEType: mime}},
			}},
		}},
	}
}

func TestGeminiRenderer_ProfilesAndAugmentation(t *testing.T) {
	cases := []struct {
		resolution string
		model      string
		size       string
	}{
		{"1920x1080", DefaultImageModel, ""},
		{"2560x1440", ProImageModel, "2K"},
		{"3840x2160", ProImageModel, "4K"},
		{"15369x8640", ProImageModel, "4K"},
	}
	for _, tc := range cases {
		t.Run(tc.resolution, func(t *testing.T) {
			gen := &fakeGenerator{resp: imageResponse([]byte("png"), "image/webp")}
			img, err := (&GeminiRenderer{models: gen}).Render(context.Background(), RenderRequest{
				Image:            []byte{0xff, 0xd8, 0xff},
				MIMEType:         "image/jpeg",
				Description:      "A bright room.",
				TargetResolution: tc.resolution,
			})
			require.NoError(t, err)
			assert.Equal(t, "image/webp", img.MIMEType)

			call := gen.lastCall(t)
			assert.Equal(t, tc.model, call.model)
			if tc.size == "" {
				assert.Nil(t, call.config.ImageConfig)
			} else {
				require.NotNil(t, call.config.ImageConfig)
				assert.Equal(t, tc.size, call.config.ImageConfig.ImageSize)
			}

			parts := call.contents[0].Parts
			require.Len(t, parts, 2)
			assert.Equal(t, prompts.Render("A bright room."), parts[0].Text)
			require.NotNil(t, parts[1].InlineData)
			assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
		})
	}
}

func TestGeminiRenderer_UpscaleAugmentation(t *testing.T) {
	gen := &fakeGenerator{resp: imageResponse([]byte("x"), "")}
	_, err := (&GeminiRenderer{models: gen}).Render(context.Background(), RenderRequest{
		Image: []byte("img"), Description: prompts.UpscaleDescription, TargetResolution: "1920x1080",
	})
	require.NoError(t, err)
	assert.Contains(t, gen.lastCall(t).contents[0].Parts[0].Text, "Mode: Super-Resolution.")
}

func TestGeminiRenderer_DataURIDefaultsToPNG(t *testing.T) {
	gen := &fakeGenerator{resp: imageResponse([]byte("abc"), "")}
	img, err := (&GeminiRenderer{models: gen}).Render(context.Background(), RenderRequest{
		Image: []byte("img"), Description: "d", TargetResolution: "1920x1080",
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,YWJj", img.DataURI())

	back, err := ParseDataURI(img.DataURI())
	require.NoError(t, err)
	assert.Equal(t, img, back)
}

func TestGeminiRenderer_GenerationFailures(t *testing.T) {
	cases := map[string]*genai.GenerateContentResponse{
		"no candidates": {},
		"no parts":      {Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
		"text only":     textResponse("I can't do that."),
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{resp: resp}
			img, err := (&GeminiRenderer{models: gen}).Render(context.Background(), RenderRequest{
				Image: []byte("img"), Description: "d", TargetResolution: "1920x1080",
			})
			assert.ErrorIs(t, err, ErrGeneration)
			assert.NotErrorIs(t, err, ErrTransport)
			assert.Empty(t, img.Data)
		})
	}
}

func TestGeminiRenderer_Validation(t *testing.T) {
	gen := &fakeGenerator{}
	r := &GeminiRenderer{models: gen}

	_, err := r.Render(context.Background(), RenderRequest{Description: "d"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = r.Render(context.Background(), RenderRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = r.Render(context.Background(), RenderRequest{Image: make([]byte, MaxImageBytes+1), Description: "d"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, gen.calls)
}

func TestGeminiRenderer_TransportFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection reset by peer")}
	_, err := (&GeminiRenderer{models: gen}).Render(context.Background(), RenderRequest{
		Image: []byte("img"), Description: "d",
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, transportMessage, PublicMessage(err))
}

func TestGeminiRenderer_DeadlineIsGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: context.DeadlineExceeded}
	_, err := (&GeminiRenderer{models: gen}).Render(context.Background(), RenderRequest{
		Image: []byte("img"), Description: "d",
	})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "Image generation timed out.", PublicMessage(err))
}

func TestGeminiInterpreter_DeadlineIsInterpretationFailure(t *testing.T) {
	gen := &fakeGenerator{err: context.DeadlineExceeded}
	_, err := newGeminiInterpreter(gen, "").Interpret(context.Background(), Request{Prompt: "Make it modern"})
	assert.ErrorIs(t, err, ErrInterpretation)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, "Request interpretation timed out.", PublicMessage(err))
}

func TestParseDataURI_Rejects(t *testing.T) {
	for _, uri := range []string{"http://x", "data:image/png,abc", "data:image/png;base64", "data:image/png;base64,@@"} {
		_, err := ParseDataURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "", PublicMessage(nil))
	assert.Equal(t, transportMessage, PublicMessage(transportFailure(StageRender, errors.New("POST https://generativelanguage.googleapis.com/v1?key=AIzaSyABCDEFGHIJKLMNOP failed"))))
	assert.Equal(t, "Failed to interpret request.", PublicMessage(interpretationFailure("Failed to interpret request.", errors.New("raw model text"))))
	assert.Equal(t, canceledMessage, PublicMessage(transportFailure(StageInterpret, context.Canceled)))

	scrubbed := PublicMessage(errors.New("call failed: key=secret123 Authorization: Bearer abc.def token AIzaSyABCDEFGHIJKLMNOP"))
	assert.NotContains(t, scrubbed, "secret123")
	assert.NotContains(t, scrubbed, "abc.def")
	assert.NotContains(t, scrubbed, "AIzaSyABCDEFGHIJKLMNOP")
}

func TestDetectMIME(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	assert.Equal(t, "image/png", DetectMIME(png, ""))
	assert.Equal(t, "image/webp", DetectMIME(png, "image/webp"))
	assert.Equal(t, "image/jpeg", DetectMIME([]byte("hello"), "text/plain"))
}
