package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"homeraAi/internal/plans"
)

const (
	// MaxFormBytes caps a multipart upload request.
	MaxFormBytes = MaxImageBytes + 1<<20
	// MaxJSONBytes caps a JSON request without images.
	MaxJSONBytes = 1 << 20
)

// Handler exposes the interpreter and renderer as standalone endpoints.
type Handler struct {
	Interpreter Interpreter
	Renderer    Renderer
	// Tier resolves the caller's tier; nil means the default tier.
	Tier        func(*http.Request) plans.Tier
}

// Interpret handles POST /api/vision/interpret.
func (h Handler) Interpret(w http.ResponseWriter, r *http.Request) {
	if h.Interpreter == nil {
		http.Error(w, "vision interpreter inactive", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Prompt  string `json:"prompt"`
		Upscale bool   `json:"upscale"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := h.Interpreter.Interpret(r.Context(), Request{
		Prompt:  req.Prompt,
		Tier:    string(h.tier(r)),
		Upscale: req.Upscale,
	})
	if err != nil {
		http.Error(w, PublicMessage(err), StatusCode(err))
		return
	}
	writeJSON(w, plan)
}

// Render handles POST /api/vision/render with a multipart image and a description.
func (h Handler) Render(w http.ResponseWriter, r *http.Request) {
	if h.Renderer == nil {
		http.Error(w, "vision rendering inactive", http.StatusServiceUnavailable)
		return
	}
	data, mime, err := ReadImageForm(w, r, "image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resolution := strings.TrimSpace(r.FormValue("target_resolution"))
	if resolution == "" {
		resolution = plans.Lookup(string(h.tier(r))).Resolution
	}

	img, err := h.Renderer.Render(r.Context(), RenderRequest{
		Image:            data,
		MIMEType:         mime,
		Description:      r.FormValue("description"),
		TargetResolution: resolution,
	})
	if err != nil {
		http.Error(w, PublicMessage(err), StatusCode(err))
		return
	}
	writeJSON(w, map[string]string{
		"image":             img.DataURI(),
		"mime_type":         img.MIMEType,
		"target_resolution": resolution,
	})
}

func (h Handler) tier(r *http.Request) plans.Tier {
	if h.Tier == nil {
		return plans.DefaultTier
	}
	return h.Tier(r)
}

// StatusCode maps a vision failure to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, ErrInterpretation), errors.Is(err, ErrGeneration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ReadImageForm parses a multipart form of at most MaxFormBytes and returns
// the bytes and MIME type of field.
func ReadImageForm(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxFormBytes)
	if err := r.ParseMultipartForm(MaxFormBytes); err != nil {
		return nil, "", fmt.Errorf("could not parse form: %w", err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%s is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("could not read file")
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty file")
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("file exceeds %d bytes", MaxImageBytes)
	}
	return data, DetectMIME(data, header.Header.Get("Content-Type")), nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
