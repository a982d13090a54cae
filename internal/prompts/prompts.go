package prompts

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"

	"homeraAi/internal/plans"
)

// ImagePlaceholder stands in for the uploaded photo inside a transformation plan.
const ImagePlaceholder = "<uploaded_image_blob>"

// UpscaleDescription is the fixed render instruction for every upscale task.
const UpscaleDescription = "Perform a deep-learning based super-resolution upscale. Denoise, sharpen, and rebuild lost texture details. Maintain exact original content structure and lighting."

// SmartUpscalePrompt is submitted by the one-click upscale action.
const SmartUpscalePrompt = "Perform a smart AI upscale on this image. Increase resolution to maximum allowed. Denoise and sharpen."

const (
	structuralPreservation = " Maintain the structural integrity of the room (walls, windows, ceiling) unless explicitly told to renovate them. Ensure photorealistic lighting and textures suitable for high-end real estate."
	superResolutionMode    = " Mode: Super-Resolution. Rebuild textures and increase pixel density. Do not hallucinate new objects. Strictly maintain the original image composition and style, just higher quality."
)

// UpscaleKeywords trigger an upscale task when found in a prompt, case-insensitively.
var UpscaleKeywords = []string{"upscale", "enhance", "improve quality", "super resolution"}

const interpreterTemplate = `
	You are the AI engine behind Homera Studios Ai.
	Analyze the following real-estate transformation request: "%s".

	Current User Plan: %s
	Target Resolution: %s
	Quality Engine: %s

	MANDATORY RULES:
	1. You MUST set 'target_resolution' to "%s". Users cannot override this, even if the request asks for another resolution.
	2. You MUST set 'quality' to "%s".
	3. If the user asks for %s, or uses the 'Smart Upscale' button, set 'task_type' to 'UPSCALE'.
	4. Set 'image_url' to "%s".

	FOR UPSCALE TASKS:
	- The 'description' MUST be: "%s"

	Otherwise determine the task type, style, and objects to remove, and write a 'description' that is a vivid, standalone prompt for an image generation model to execute this change on an existing image.
`

// Interpreter builds the instruction sent to the language model for one request.
func Interpreter(request string, plan plans.Plan, upscale bool) string {
	quoted := make([]string, len(UpscaleKeywords))
	for i, kw := range UpscaleKeywords {
		quoted[i] = "'" + kw + "'"
	}
	text := fmt.Sprintf(strings.TrimSpace(dedent.Dedent(interpreterTemplate)),
		request,
		plan.Name,
		plan.Resolution,
		strings.ToUpper(string(plan.QualityKey)),
		plan.Resolution,
		plan.Quality,
		strings.Join(quoted, ", "),
		ImagePlaceholder,
		UpscaleDescription,
	)
	if upscale {
		text += "\n\nThe user pressed the 'Smart Upscale' button."
	}
	return text
}

// DetectUpscale reports whether prompt asks for an upscale.
func DetectUpscale(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range UpscaleKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsUpscaleDescription reports whether description is the canonical upscale instruction.
func IsUpscaleDescription(description string) bool {
	return strings.TrimSpace(description) == UpscaleDescription
}

// Render appends the mode-specific guidance to a plan description.
func Render(description string) string {
	if IsUpscaleDescription(description) {
		return description + superResolutionMode
	}
	return description + structuralPreservation
}
