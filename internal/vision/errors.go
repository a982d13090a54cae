package vision

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrInterpretation covers empty, malformed or off-schema interpreter output.
	ErrInterpretation = errors.New("interpretation failure")
	// ErrGeneration means the image model answered without an image.
	ErrGeneration = errors.New("generation failure")
	// ErrTransport wraps network and API errors from either hosted model.
	ErrTransport = errors.New("transport failure")
	// ErrInvalidInput is returned before any network call for unusable input.
	ErrInvalidInput = errors.New("invalid input")
)

// Stage names the pipeline step a failure came from.
type Stage string

const (
	StageInterpret Stage = "interpret"
	StageRender    Stage = "render"
)

// Failure is the error type returned by interpreters and renderers.
type Failure struct {
	Kind   error
	Stage  Stage
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	msg := string(f.Stage) + ": " + f.Reason
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// Is matches the failure kind sentinel.
func (f *Failure) Is(target error) bool { return target == f.Kind }

func interpretationFailure(reason string, err error) error {
	return &Failure{Kind: ErrInterpretation, Stage: StageInterpret, Reason: reason, Err: err}
}

func generationFailure(reason string, err error) error {
	return &Failure{Kind: ErrGeneration, Stage: StageRender, Reason: reason, Err: err}
}

func transportFailure(stage Stage, err error) error {
	return &Failure{Kind: ErrTransport, Stage: stage, Reason: "request to the AI service failed", Err: err}
}

// callFailure classifies an error from a model call. A deadline surfaces as
// the stage's own failure kind; anything else is a transport failure.
func callFailure(stage Stage, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if stage == StageRender {
			return generationFailure("Image generation timed out.", err)
		}
		return interpretationFailure("Request interpretation timed out.", err)
	}
	return transportFailure(stage, err)
}

const (
	transportMessage = "The AI service could not be reached. Please try again."
	canceledMessage  = "The request was cancelled."
)

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(key|token|secret)=[^&\s"']+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{10,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-~+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`https?://[^\s"']+`), "[endpoint]"},
}

// PublicMessage returns a message safe to show to end users.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return canceledMessage
	}
	var failure *Failure
	if errors.As(err, &failure) {
		if failure.Kind == ErrTransport {
			return transportMessage
		}
		return Scrub(failure.Reason)
	}
	return Scrub(err.Error())
}

// Scrub redacts credentials and endpoint URLs from text.
func Scrub(text string) string {
	for _, p := range secretPatterns {
		text = p.re.ReplaceAllString(text, p.repl)
	}
	return strings.TrimSpace(text)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
