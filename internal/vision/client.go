package vision

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// contentGenerator is the slice of the genai Models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ClientOptions selects the Gemini API (APIKey) or Vertex AI (Project + Location) backend.
type ClientOptions struct {
	APIKey   string
	Project  string
	Location string
}

// NewClient constructs a genai client for the configured backend.
func NewClient(ctx context.Context, opts ClientOptions) (*genai.Client, error) {
	cfg := &genai.ClientConfig{}
	switch {
	case strings.TrimSpace(opts.APIKey) != "":
		cfg.APIKey = strings.TrimSpace(opts.APIKey)
		cfg.Backend = genai.BackendGeminiAPI
	case strings.TrimSpace(opts.Project) != "":
		cfg.Project = strings.TrimSpace(opts.Project)
		cfg.Location = strings.TrimSpace(opts.Location)
		if cfg.Location == "" {
			cfg.Location = "us-central1"
		}
		cfg.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("vision: api key or vertex project required")
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vision: create genai client: %w", err)
	}
	return client, nil
}

func normalizeModel(model, fallback string) string {
	clean := strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if clean == "" {
		return fallback
	}
	return clean
}

func float32Ptr(f float32) *float32 {
	return &f
}
