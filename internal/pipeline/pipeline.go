package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"homeraAi/internal/plans"
	"homeraAi/internal/vision"
)

// ErrSuperseded ends a run replaced by a newer submission for the same session.
var ErrSuperseded = errors.New("pipeline: superseded by a newer submission")

const supersededMessage = "Superseded by a newer request."

// Submission is one user-initiated transformation request.
type Submission struct {
	SessionKey string
	Prompt     string
	Tier       string
	Upscale    bool
	Image      []byte
	MIMEType   string
}

// Result is the outcome of a run. Plan is dropped when rendering fails.
type Result struct {
	State       State                      `json:"state"`
	Plan        *vision.TransformationPlan `json:"plan,omitempty"`
	Image       *vision.RenderedImage      `json:"-"`
	ImageURI    string                     `json:"image,omitempty"`
	FailedStage State                      `json:"failed_stage,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Logs        []TransformationLog        `json:"logs"`
}

// Pipeline runs interpretation then rendering. A new submission for a
// session key cancels the one still in flight for that key.
type Pipeline struct {
	interpreter vision.Interpreter
	renderer    vision.Renderer
	sink        LogSink
	now         func() time.Time

	mu       sync.Mutex
	seq      uint64
	inflight map[string]flight
}

type flight struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// New constructs a pipeline. sink may be nil.
func New(interpreter vision.Interpreter, renderer vision.Renderer, sink LogSink) *Pipeline {
	return &Pipeline{
		interpreter: interpreter,
		renderer:    renderer,
		sink:        sink,
		now:         time.Now,
		inflight:    make(map[string]flight),
	}
}

// InFlight reports whether a run is active for sessionKey.
func (p *Pipeline) InFlight(sessionKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[sessionKey]
	return ok
}

// Run executes one submission. Validation errors return before any state
// change; every other failure ends in StateFailed with a terminal log entry.
func (p *Pipeline) Run(ctx context.Context, sub Submission) (Result, error) {
	if strings.TrimSpace(sub.Prompt) == "" && !sub.Upscale {
		return Result{State: StateIdle}, fmt.Errorf("pipeline: prompt is required: %w", vision.ErrInvalidInput)
	}
	if len(sub.Image) == 0 {
		return Result{State: StateIdle}, fmt.Errorf("pipeline: image is required: %w", vision.ErrInvalidInput)
	}
	if p.interpreter == nil || p.renderer == nil {
		return Result{State: StateIdle}, fmt.Errorf("pipeline: not configured")
	}

	runCtx, done := p.register(ctx, sub.SessionKey)
	defer done()

	started := p.now()
	tier, _ := plans.ParseTier(sub.Tier)
	logs := &runLog{sessionKey: sub.SessionKey, sink: p.sink, now: p.now}
	machine := NewMachine()
	logger := log.With().Str("session", sub.SessionKey).Str("tier", string(tier)).Logger()

	fail := func(stage State, err error) (Result, error) {
		if errors.Is(context.Cause(runCtx), ErrSuperseded) {
			err = fmt.Errorf("%w: %w", ErrSuperseded, err)
		}
		msg := publicMessage(err)
		logs.add("Error", msg, LogError, nil)
		if terr := machine.Transition(StateFailed); terr != nil {
			return Result{}, terr
		}
		logger.Warn().Err(err).Str("stage", string(stage)).Dur("elapsed", p.now().Sub(started)).Msg("transformation failed")
		return Result{
			State:       StateFailed,
			FailedStage: stage,
			Error:       msg,
			Logs:        logs.snapshot(),
		}, err
	}

	if err := machine.Transition(StateInterpreting); err != nil {
		return Result{}, err
	}
	logs.add("Analyzing Request", fmt.Sprintf("Interpreting user intent (Tier: %s)...", tier), LogLoading, nil)

	tp, err := p.interpreter.Interpret(runCtx, vision.Request{Prompt: sub.Prompt, Tier: string(tier), Upscale: sub.Upscale})
	if err == nil {
		err = context.Cause(runCtx)
	}
	if err != nil {
		return fail(StateInterpreting, err)
	}
	logs.add("Request Interpretation", tp.Interpretation, LogSuccess, tp.Payload)

	if err := machine.Transition(StateRendering); err != nil {
		return Result{}, err
	}
	quality := strings.ReplaceAll(string(tp.Payload.Quality), "_", " ")
	logs.add("Processing Visuals", fmt.Sprintf("Rendering with %s quality engine...", quality), LogLoading, nil)
	logs.add("Auto-Scaling", fmt.Sprintf("Applying automatic upscale to %s", tp.Payload.TargetResolution), LogLoading, nil)

	img, err := p.renderer.Render(runCtx, vision.RenderRequest{
		Image:            sub.Image,
		MIMEType:         sub.MIMEType,
		Description:      tp.Payload.Description,
		TargetResolution: tp.Payload.TargetResolution,
	})
	if err == nil {
		err = context.Cause(runCtx)
	}
	if err != nil {
		return fail(StateRendering, err)
	}

	if err := machine.Transition(StateComplete); err != nil {
		return Result{}, err
	}
	logs.add("Rendering Complete", "Visualization generated successfully.", LogSuccess, nil)
	logger.Info().
		Str("task_type", string(tp.Payload.TaskType)).
		Str("resolution", tp.Payload.TargetResolution).
		Dur("elapsed", p.now().Sub(started)).
		Msg("transformation complete")

	return Result{
		State:    StateComplete,
		Plan:     &tp,
		Image:    &img,
		ImageURI: img.DataURI(),
		Logs:     logs.snapshot(),
	}, nil
}

// register cancels any run in flight for key and records the new one.
// Runs without a key are never replaced.
func (p *Pipeline) register(ctx context.Context, key string) (context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	if key == "" {
		return runCtx, func() { cancel(nil) }
	}

	p.mu.Lock()
	p.seq++
	id := p.seq
	if prev, ok := p.inflight[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	p.inflight[key] = flight{id: id, cancel: cancel}
	p.mu.Unlock()

	return runCtx, func() {
		p.mu.Lock()
		if cur, ok := p.inflight[key]; ok && cur.id == id {
			delete(p.inflight, key)
		}
		p.mu.Unlock()
		cancel(nil)
	}
}

func publicMessage(err error) string {
	if errors.Is(err, ErrSuperseded) {
		return supersededMessage
	}
	return vision.PublicMessage(err)
}
