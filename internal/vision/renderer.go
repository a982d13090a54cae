package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"homeraAi/internal/prompts"
)

const (
	// MaxImageBytes caps uploads sent inline to the image model.
	MaxImageBytes = 20 << 20

	DefaultImageModel = "gemini-2.5-flash-image"
	ProImageModel     = "gemini-3-pro-image-preview"

	defaultOutputMIME = "image/png"
)

// Profile is the model and output size used for one render.
type Profile struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	ImageSize string `json:"image_size,omitempty"`
}

var (
	ProfileHigh    = Profile{Name: "high", Model: ProImageModel, ImageSize: "4K"}
	ProfileMid     = Profile{Name: "mid", Model: ProImageModel, ImageSize: "2K"}
	ProfileDefault = Profile{Name: "default", Model: DefaultImageModel}

	highMarkers = []string{"3840", "2160", "15369", "15360"}
	midMarkers  = []string{"2560", "1440"}
)

// SelectProfile maps a target resolution to a render profile by substring.
// 16K targets use the largest size the model offers.
func SelectProfile(resolution string) Profile {
	for _, m := range highMarkers {
		if strings.Contains(resolution, m) {
			return ProfileHigh
		}
	}
	for _, m := range midMarkers {
		if strings.Contains(resolution, m) {
			return ProfileMid
		}
	}
	return ProfileDefault
}

// RenderRequest is the input to a single render.
type RenderRequest struct {
	Image            []byte
	MIMEType         string
	Description      string
	TargetResolution string
}

// RenderedImage is the decoded image returned by the model.
type RenderedImage struct {
	Data     []byte
	MIMEType string
}

// DataURI encodes the image as data:<mime>;base64,<payload>.
func (img RenderedImage) DataURI() string {
	mime := img.MIMEType
	if strings.TrimSpace(mime) == "" {
		mime = defaultOutputMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ParseDataURI decodes a base64 data URI.
func ParseDataURI(uri string) (RenderedImage, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return RenderedImage{}, fmt.Errorf("vision: not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return RenderedImage{}, fmt.Errorf("vision: data uri has no payload")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return RenderedImage{}, fmt.Errorf("vision: data uri is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return RenderedImage{}, fmt.Errorf("vision: decode data uri: %w", err)
	}
	if mime == "" {
		mime = defaultOutputMIME
	}
	return RenderedImage{Data: data, MIMEType: mime}, nil
}

// Renderer produces the transformed photo.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderedImage, error)
}

// GeminiRenderer sends the photo and instructions to a hosted image model.
type GeminiRenderer struct {
	models contentGenerator
}

// NewGeminiRenderer builds a renderer on top of client.
func NewGeminiRenderer(client *genai.Client) *GeminiRenderer {
	var models contentGenerator
	if client != nil {
		models = client.Models
	}
	return &GeminiRenderer{models: models}
}

// Render performs one round trip; no retries.
func (g *GeminiRenderer) Render(ctx context.Context, req RenderRequest) (RenderedImage, error) {
	if g == nil || g.models == nil {
		return RenderedImage{}, fmt.Errorf("vision: image renderer unavailable")
	}
	if len(req.Image) == 0 {
		return RenderedImage{}, fmt.Errorf("vision: image is required: %w", ErrInvalidInput)
	}
	if len(req.Image) > MaxImageBytes {
		return RenderedImage{}, fmt.Errorf("vision: image exceeds %d bytes: %w", MaxImageBytes, ErrInvalidInput)
	}
	if strings.TrimSpace(req.Description) == "" {
		return RenderedImage{}, fmt.Errorf("vision: description is required: %w", ErrInvalidInput)
	}

	profile := SelectProfile(req.TargetResolution)
	config := &genai.GenerateContentConfig{}
	if profile.ImageSize != "" {
		config.ImageConfig = &genai.ImageConfig{ImageSize: profile.ImageSize}
	}
	log.Debug().Str("model", profile.Model).Str("image_size", profile.ImageSize).Msg("rendering")

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompts.Render(req.Description)),
			genai.NewPartFromBytes(req.Image, DetectMIME(req.Image, req.MIMEType)),
		}, genai.RoleUser),
	}

	resp, err := g.models.GenerateContent(ctx, profile.Model, contents, config)
	if err != nil {
		return RenderedImage{}, callFailure(StageRender, err)
	}
	return firstImage(resp)
}

func firstImage(resp *genai.GenerateContentResponse) (RenderedImage, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return RenderedImage{}, generationFailure("No content generated.", nil)
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := strings.TrimSpace(part.InlineData.MIMEType)
		if mime == "" {
			mime = defaultOutputMIME
		}
		return RenderedImage{Data: part.InlineData.Data, MIMEType: mime}, nil
	}
	return RenderedImage{}, generationFailure("The model did not return an image. It might have refused the request.", nil)
}

// DetectMIME trusts a provided image MIME type and sniffs otherwise, falling back to JPEG.
func DetectMIME(data []byte, provided string) string {
	mime := strings.TrimSpace(provided)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return "image/jpeg"
	}
	return mime
}
