package vision

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"homeraAi/internal/plans"
)

// HeuristicInterpreter builds plans from keywords without any network call.
// It backs offline CLI runs and deployments without AI credentials.
type HeuristicInterpreter struct{}

var knownStyles = []string{
	"Scandinavian", "Japandi", "Mid-Century", "Industrial", "Minimalist", "Bohemian",
	"Coastal", "Farmhouse", "Traditional", "Contemporary", "Art Deco", "Modern",
}

var (
	declutterWords  = []string{"declutter", "clutter", "tidy", "remove", "empty"}
	stagingWords    = []string{"stage", "staging", "furnish", "furniture", "add a", "add some"}
	renovationWords = []string{"renovat", "remodel", "repaint", "paint", "floor", "tiles", "countertop"}
	removeClause    = regexp.MustCompile(`(?i)\b(?:remove|get rid of|take out)\s+(?:the\s+|all\s+)?([^,.;!?]+)`)
)

// Interpret implements Interpreter.
func (HeuristicInterpreter) Interpret(ctx context.Context, req Request) (TransformationPlan, error) {
	if err := ctx.Err(); err != nil {
		return TransformationPlan{}, callFailure(StageInterpret, err)
	}
	text, err := requestText(req)
	if err != nil {
		return TransformationPlan{}, err
	}
	plan := plans.Lookup(req.Tier)
	lower := strings.ToLower(text)

	style := detectStyle(lower)
	task := TaskRenovation
	switch {
	case style != "":
		task = TaskStyleTransfer
	case containsAny(lower, declutterWords):
		task = TaskDeclutter
	case containsAny(lower, stagingWords):
		task = TaskStaging
	case containsAny(lower, renovationWords):
		task = TaskRenovation
	}

	removals := objectsToRemove(text)
	if len(removals) > 0 && task == TaskRenovation {
		task = TaskDeclutter
	}

	var desc strings.Builder
	desc.WriteString("A photorealistic real-estate photograph of the same room")
	if style != "" {
		fmt.Fprintf(&desc, ", redesigned in a %s style", style)
	}
	fmt.Fprintf(&desc, ". %s.", strings.TrimRight(text, ".!? "))
	if len(removals) > 0 {
		fmt.Fprintf(&desc, " Remove %s and leave clean, natural surfaces.", strings.Join(removals, ", "))
	}
	desc.WriteString(" Bright natural daylight, accurate perspective, magazine-quality finish.")

	interpretation := fmt.Sprintf("Applying a %s transformation at %s (%s quality).",
		strings.ToLower(strings.ReplaceAll(string(task), "_", " ")), plan.Resolution, plan.Quality)

	tp := TransformationPlan{
		Interpretation: interpretation,
		Payload: Payload{
			TaskType:         task,
			Style:            style,
			ObjectsToRemove:  removals,
			Description:      desc.String(),
			ConsistencyCheck: true,
		},
	}
	return Enforce(tp, plan, text, req.Upscale), nil
}

func detectStyle(lower string) string {
	for _, s := range knownStyles {
		if strings.Contains(lower, strings.ToLower(s)) {
			return s
		}
	}
	return ""
}

func objectsToRemove(text string) []string {
	var out []string
	for _, m := range removeClause.FindAllStringSubmatch(text, -1) {
		for _, item := range strings.Split(m[1], " and ") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
