package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeraAi/internal/plans"
	"homeraAi/internal/vision"
)

type stubRenderer struct {
	mu      sync.Mutex
	reqs    []vision.RenderRequest
	img     vision.RenderedImage
	err     error
	started chan struct{}
	block   bool
}

func (s *stubRenderer) Render(ctx context.Context, req vision.RenderRequest) (vision.RenderedImage, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	block := s.block
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if block {
		<-ctx.Done()
		return vision.RenderedImage{}, &vision.Failure{Kind: vision.ErrTransport, Stage: vision.StageRender, Reason: "canceled", Err: ctx.Err()}
	}
	return s.img, s.err
}

type failingInterpreter struct{ err error }

func (f failingInterpreter) Interpret(context.Context, vision.Request) (vision.TransformationPlan, error) {
	return vision.TransformationPlan{}, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	entries map[string][]TransformationLog
}

func (r *recordingSink) PublishLog(key string, entry TransformationLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string][]TransformationLog)
	}
	r.entries[key] = append(r.entries[key], entry)
}

func titles(logs []TransformationLog) []string {
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Title
	}
	return out
}

func TestRun_EndToEndPremium2K(t *testing.T) {
	renderer := &stubRenderer{img: vision.RenderedImage{Data: []byte("img"), MIMEType: "image/png"}}
	sink := &recordingSink{}
	p := New(vision.HeuristicInterpreter{}, renderer, sink)

	res, err := p.Run(context.Background(), Submission{
		SessionKey: "user-1",
		Prompt:     "Make this living room Scandinavian, remove clutter",
		Tier:       "premium_2k",
		Image:      []byte("photo"),
		MIMEType:   "image/jpeg",
	})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, res.State)
	require.NotNil(t, res.Plan)
	assert.Equal(t, plans.QualityHighDetail, res.Plan.Payload.Quality)
	assert.Equal(t, "2560x1440", res.Plan.Payload.TargetResolution)
	assert.Equal(t, "data:image/png;base64,aW1n", res.ImageURI)

	require.Len(t, renderer.reqs, 1)
	assert.Equal(t, "2560x1440", renderer.reqs[0].TargetResolution)
	assert.Equal(t, vision.ProfileMid, vision.SelectProfile(renderer.reqs[0].TargetResolution))
	assert.Equal(t, res.Plan.Payload.Description, renderer.reqs[0].Description)

	assert.Equal(t, []string{
		"Analyzing Request", "Request Interpretation", "Processing Visuals", "Auto-Scaling", "Rendering Complete",
	}, titles(res.Logs))
	assert.Equal(t, "Interpreting user intent (Tier: premium_2k)...", res.Logs[0].Message)
	assert.Equal(t, "Rendering with HIGH DETAIL quality engine...", res.Logs[2].Message)
	assert.Equal(t, "Applying automatic upscale to 2560x1440", res.Logs[3].Message)
	assert.Equal(t, res.Plan.Payload, res.Logs[1].Data)
	assert.Equal(t, res.Logs, sink.entries["user-1"])
	assert.False(t, p.InFlight("user-1"))
}

func TestRun_InterpretationFailure(t *testing.T) {
	renderer := &stubRenderer{}
	cause := &vision.Failure{Kind: vision.ErrInterpretation, Stage: vision.StageInterpret, Reason: "Failed to interpret request."}
	p := New(failingInterpreter{err: cause}, renderer, nil)

	res, err := p.Run(context.Background(), Submission{Prompt: "stage it", Image: []byte("x")})
	assert.ErrorIs(t, err, vision.ErrInterpretation)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateInterpreting, res.FailedStage)
	assert.Equal(t, "Failed to interpret request.", res.Error)
	assert.Equal(t, []string{"Analyzing Request", "Error"}, titles(res.Logs))
	assert.Equal(t, LogError, res.Logs[1].Status)
	assert.Empty(t, renderer.reqs)
}

func TestRun_RenderFailureDiscardsPlan(t *testing.T) {
	renderer := &stubRenderer{err: &vision.Failure{
		Kind:   vision.ErrGeneration,
		Stage:  vision.StageRender,
		Reason: "The model did not return an image. It might have refused the request.",
	}}
	p := New(vision.HeuristicInterpreter{}, renderer, nil)

	res, err := p.Run(context.Background(), Submission{Prompt: "stage it", Tier: "ultra_4k", Image: []byte("x")})
	assert.ErrorIs(t, err, vision.ErrGeneration)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateRendering, res.FailedStage)
	assert.Nil(t, res.Plan)
	assert.Empty(t, res.ImageURI)
	assert.Equal(t, "Error", res.Logs[len(res.Logs)-1].Title)
	assert.Equal(t, "Request Interpretation", res.Logs[1].Title)
}

func TestRun_TransportFailureIsScrubbed(t *testing.T) {
	renderer := &stubRenderer{err: &vision.Failure{
		Kind:   vision.ErrTransport,
		Stage:  vision.StageRender,
		Reason: "request failed",
		Err:    errors.New("POST https://example.invalid/?key=AIzaSySECRETSECRETSECRET: 503"),
	}}
	p := New(vision.HeuristicInterpreter{}, renderer, nil)

	res, err := p.Run(context.Background(), Submission{Prompt: "stage it", Image: []byte("x")})
	assert.ErrorIs(t, err, vision.ErrTransport)
	assert.NotContains(t, res.Error, "AIza")
	assert.NotContains(t, res.Logs[len(res.Logs)-1].Message, "example.invalid")
}

func TestRun_Validation(t *testing.T) {
	p := New(vision.HeuristicInterpreter{}, &stubRenderer{}, nil)

	res, err := p.Run(context.Background(), Submission{Image: []byte("x")})
	assert.ErrorIs(t, err, vision.ErrInvalidInput)
	assert.Equal(t, StateIdle, res.State)

	_, err = p.Run(context.Background(), Submission{Prompt: "stage it"})
	assert.ErrorIs(t, err, vision.ErrInvalidInput)
}

func TestRun_ExplicitUpscaleWithoutPrompt(t *testing.T) {
	renderer := &stubRenderer{img: vision.RenderedImage{Data: []byte("x")}}
	p := New(vision.HeuristicInterpreter{}, renderer, nil)

	res, err := p.Run(context.Background(), Submission{Upscale: true, Tier: "ultra_realistic_16k", Image: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, vision.TaskUpscale, res.Plan.Payload.TaskType)
	assert.Equal(t, "15369x8640", renderer.reqs[0].TargetResolution)
}

func TestRun_NewSubmissionSupersedesInFlight(t *testing.T) {
	blocking := &stubRenderer{block: true, started: make(chan struct{}, 1)}
	p := New(vision.HeuristicInterpreter{}, blocking, nil)

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := p.Run(context.Background(), Submission{SessionKey: "s", Prompt: "stage it", Image: []byte("x")})
		first <- outcome{res, err}
	}()

	select {
	case <-blocking.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached rendering")
	}
	assert.True(t, p.InFlight("s"))

	blocking.mu.Lock()
	blocking.block = false
	blocking.img = vision.RenderedImage{Data: []byte("second")}
	blocking.mu.Unlock()

	second, err := p.Run(context.Background(), Submission{SessionKey: "s", Prompt: "stage it", Image: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, second.State)

	select {
	case got := <-first:
		assert.ErrorIs(t, got.err, ErrSuperseded)
		assert.Equal(t, StateFailed, got.res.State)
		assert.Equal(t, supersededMessage, got.res.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("first run was not cancelled")
	}
	assert.False(t, p.InFlight("s"))
}

func TestRun_DifferentSessionsIndependent(t *testing.T) {
	renderer := &stubRenderer{img: vision.RenderedImage{Data: []byte("x")}}
	p := New(vision.HeuristicInterpreter{}, renderer, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Run(context.Background(), Submission{
				SessionKey: string(rune('a' + i)),
				Prompt:     "stage it",
				Image:      []byte("x"),
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	assert.ErrorIs(t, m.Transition(StateRendering), ErrIllegalTransition)
	require.NoError(t, m.Transition(StateInterpreting))
	require.NoError(t, m.Transition(StateFailed))
	assert.True(t, m.State().Terminal())
	assert.ErrorIs(t, m.Transition(StateComplete), ErrIllegalTransition)
	require.NoError(t, m.Transition(StateInterpreting))
	require.NoError(t, m.Transition(StateRendering))
	require.NoError(t, m.Transition(StateComplete))
}
