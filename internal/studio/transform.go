package studio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"homeraAi/internal/pipeline"
	"homeraAi/internal/vision"
)

// Transform handles POST /api/transform (multipart: image, prompt, upscale).
func (h Handler) Transform(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.Pipeline == nil {
		http.Error(w, "image transformation inactive", http.StatusServiceUnavailable)
		return
	}

	image, mime, err := vision.ReadImageForm(w, r, "image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	upscale := false
	if raw := strings.TrimSpace(r.FormValue("upscale")); raw != "" {
		if upscale, err = strconv.ParseBool(raw); err != nil {
			http.Error(w, "upscale must be true or false", http.StatusBadRequest)
			return
		}
	}

	result, err := h.Pipeline.Run(r.Context(), pipeline.Submission{
		SessionKey: sessionKey(user),
		Prompt:     r.FormValue("prompt"),
		Tier:       string(user.Tier),
		Upscale:    upscale,
		Image:      image,
		MIMEType:   mime,
	})
	if err != nil && result.State == pipeline.StateIdle {
		if errors.Is(err, vision.ErrInvalidInput) {
			http.Error(w, "a prompt or upscale request and an image are required", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("transform could not start")
		http.Error(w, "could not start transformation", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	switch {
	case errors.Is(err, pipeline.ErrSuperseded):
		status = http.StatusConflict
	case err != nil:
		status = vision.StatusCode(err)
	}
	writeJSON(w, status, result)
}

// Events handles GET /api/transform/events as a server-sent event stream of
// the caller's transformation log.
func (h Handler) Events(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.Broker == nil {
		http.Error(w, "event stream inactive", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := h.Broker.Subscribe(sessionKey(user))
	defer h.Broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			body, err := json.Marshal(evt.Log)
			if err != nil {
				log.Warn().Err(err).Msg("could not encode log entry")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: log\ndata: %s\n\n", body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
