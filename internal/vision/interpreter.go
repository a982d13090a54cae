package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"homeraAi/internal/plans"
	"homeraAi/internal/prompts"
)

// DefaultInterpreterModel is the language model used for request interpretation.
const DefaultInterpreterModel = "gemini-2.5-flash"

const interpreterTemperature = 0.2

// Request is one user submission to interpret.
type Request struct {
	Prompt  string
	Tier    string
	// Upscale is set by the one-click upscale action.
	Upscale bool
}

// Interpreter turns free text into a TransformationPlan for a tier.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (TransformationPlan, error)
}

// GeminiInterpreter asks a hosted language model for a schema-constrained plan.
type GeminiInterpreter struct {
	models contentGenerator
	model  string
}

// NewGeminiInterpreter builds an interpreter on top of client.
func NewGeminiInterpreter(client *genai.Client, model string) *GeminiInterpreter {
	var models contentGenerator
	if client != nil {
		models = client.Models
	}
	return newGeminiInterpreter(models, model)
}

func newGeminiInterpreter(models contentGenerator, model string) *GeminiInterpreter {
	return &GeminiInterpreter{models: models, model: normalizeModel(model, DefaultInterpreterModel)}
}

// Interpret runs a single round trip to the language model.
func (g *GeminiInterpreter) Interpret(ctx context.Context, req Request) (TransformationPlan, error) {
	if g == nil || g.models == nil {
		return TransformationPlan{}, fmt.Errorf("vision: interpreter unavailable")
	}
	text, err := requestText(req)
	if err != nil {
		return TransformationPlan{}, err
	}
	plan := plans.Lookup(req.Tier)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompts.Interpreter(text, plan, req.Upscale)),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   planSchema(),
		Temperature:      float32Ptr(interpreterTemperature),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return TransformationPlan{}, callFailure(StageInterpret, err)
	}
	if resp == nil {
		return TransformationPlan{}, interpretationFailure("Failed to interpret request.", fmt.Errorf("empty response"))
	}

	parsed, err := ParsePlan(resp.Text())
	if err != nil {
		return TransformationPlan{}, interpretationFailure("Failed to interpret request.", err)
	}
	return Enforce(parsed, plan, text, req.Upscale), nil
}

// Enforce pins the tier-derived fields and applies upscale intent, independent of model output.
func Enforce(tp TransformationPlan, plan plans.Plan, prompt string, upscale bool) TransformationPlan {
	if tp.Payload.Quality != plan.Quality || tp.Payload.TargetResolution != plan.Resolution {
		log.Warn().
			Str("tier", string(plan.ID)).
			Str("quality", string(tp.Payload.Quality)).
			Str("target_resolution", tp.Payload.TargetResolution).
			Msg("interpreter deviated from tier, overriding")
	}
	tp.Payload.Quality = plan.Quality
	tp.Payload.TargetResolution = plan.Resolution
	tp.Payload.ImageURL = prompts.ImagePlaceholder

	if upscale || prompts.DetectUpscale(prompt) {
		tp.Payload.TaskType = TaskUpscale
		tp.Payload.Description = prompts.UpscaleDescription
	}
	return tp
}

func requestText(req Request) (string, error) {
	text := strings.TrimSpace(req.Prompt)
	if text == "" && req.Upscale {
		text = prompts.SmartUpscalePrompt
	}
	if text == "" {
		return "", fmt.Errorf("vision: prompt is required: %w", ErrInvalidInput)
	}
	return text, nil
}

func planSchema() *genai.Schema {
	taskTypes := make([]string, len(TaskTypes))
	for i, t := range TaskTypes {
		taskTypes[i] = string(t)
	}
	qualities := make([]string, len(plans.Qualities))
	for i, q := range plans.Qualities {
		qualities[i] = string(q)
	}

	payload := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"image_url": {Type: genai.TypeString, Description: "Use placeholder '" + prompts.ImagePlaceholder + "'"},
			"task_type": {Type: genai.TypeString, Enum: taskTypes},
			"style":     {Type: genai.TypeString, Description: "The architectural style (e.g. Modern, Japandi)"},
			"objects_to_remove": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"description": {
				Type:        genai.TypeString,
				Description: "A highly detailed, visual description of the final image for the generative engine.",
			},
			"quality":           {Type: genai.TypeString, Enum: qualities},
			"target_resolution": {Type: genai.TypeString, Description: "The resolution dimensions, e.g. '1920x1080'."},
			"consistency_check": {Type: genai.TypeBoolean},
		},
		Required: []string{"image_url", "task_type", "description", "quality", "target_resolution", "consistency_check"},
		PropertyOrdering: []string{
			"image_url", "task_type", "style", "objects_to_remove",
			"description", "quality", "target_resolution", "consistency_check",
		},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"interpretation": {
				Type:        genai.TypeString,
				Description: "A natural language summary of what will be done, explaining the transformation to the user.",
			},
			"homera_ai_api_payload": payload,
		},
		Required:         []string{"interpretation", "homera_ai_api_payload"},
		PropertyOrdering: []string{"interpretation", "homera_ai_api_payload"},
	}
}
