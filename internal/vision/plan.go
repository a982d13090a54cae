package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"homeraAi/internal/plans"
)

// TaskType classifies the transformation requested by the user.
type TaskType string

const (
	TaskRenovation    TaskType = "RENOVATION"
	TaskStaging       TaskType = "STAGING"
	TaskDeclutter     TaskType = "DECLUTTER"
	TaskStyleTransfer TaskType = "STYLE_TRANSFER"
	TaskUpscale       TaskType = "UPSCALE"
)

// TaskTypes lists every task type accepted in a plan.
var TaskTypes = []TaskType{TaskRenovation, TaskStaging, TaskDeclutter, TaskStyleTransfer, TaskUpscale}

// Payload is the machine-readable half of a plan, consumed by the renderer.
type Payload struct {
	ImageURL         string        `json:"image_url"`
	TaskType         TaskType      `json:"task_type"`
	Style            string        `json:"style,omitempty"`
	ObjectsToRemove  []string      `json:"objects_to_remove,omitempty"`
	Description      string        `json:"description"`
	Quality          plans.Quality `json:"quality"`
	TargetResolution string        `json:"target_resolution"`
	ConsistencyCheck bool          `json:"consistency_check"`
}

// TransformationPlan is the interpreter's structured reading of a request.
type TransformationPlan struct {
	Interpretation string  `json:"interpretation"`
	Payload        Payload `json:"homera_ai_api_payload"`
}

// rawPlan mirrors TransformationPlan with pointers so missing required fields can be told apart from zero values.
type rawPlan struct {
	Interpretation *string `json:"interpretation"`
	Payload        *struct {
		ImageURL         *string  `json:"image_url"`
		TaskType         *string  `json:"task_type"`
		Style            string   `json:"style"`
		ObjectsToRemove  []string `json:"objects_to_remove"`
		Description      *string  `json:"description"`
		Quality          *string  `json:"quality"`
		TargetResolution *string  `json:"target_resolution"`
		ConsistencyCheck *bool    `json:"consistency_check"`
	} `json:"homera_ai_api_payload"`
}

// ParsePlan decodes model output into a plan, checking required fields and enums.
// A JSON object wrapped in prose or code fences is accepted.
func ParsePlan(content string) (TransformationPlan, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return TransformationPlan{}, fmt.Errorf("empty response")
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start < 0 || end <= start {
			return TransformationPlan{}, fmt.Errorf("malformed json: %w", err)
		}
		raw = rawPlan{}
		if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
			return TransformationPlan{}, fmt.Errorf("malformed json: %w", err)
		}
	}

	var missing []string
	if raw.Interpretation == nil {
		missing = append(missing, "interpretation")
	}
	if raw.Payload == nil {
		missing = append(missing, "homera_ai_api_payload")
	} else {
		p := raw.Payload
		for name, present := range map[string]bool{
			"image_url":         p.ImageURL != nil,
			"task_type":         p.TaskType != nil,
			"description":       p.Description != nil,
			"quality":           p.Quality != nil,
			"target_resolution": p.TargetResolution != nil,
			"consistency_check": p.ConsistencyCheck != nil,
		} {
			if !present {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return TransformationPlan{}, fmt.Errorf("missing required fields: %s", strings.Join(sortedCopy(missing), ", "))
	}

	p := raw.Payload
	task := TaskType(strings.TrimSpace(*p.TaskType))
	if !validTaskType(task) {
		return TransformationPlan{}, fmt.Errorf("unknown task_type %q", *p.TaskType)
	}
	quality := plans.Quality(strings.TrimSpace(*p.Quality))
	if !plans.ValidQuality(quality) {
		return TransformationPlan{}, fmt.Errorf("unknown quality %q", *p.Quality)
	}

	return TransformationPlan{
		Interpretation: *raw.Interpretation,
		Payload: Payload{
			ImageURL:         *p.ImageURL,
			TaskType:         task,
			Style:            p.Style,
			ObjectsToRemove:  p.ObjectsToRemove,
			Description:      *p.Description,
			Quality:          quality,
			TargetResolution: *p.TargetResolution,
			ConsistencyCheck: *p.ConsistencyCheck,
		},
	}, nil
}

func validTaskType(t TaskType) bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}
