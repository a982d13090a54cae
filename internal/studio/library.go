package studio

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"homeraAi/internal/media"
	"homeraAi/internal/storage"
	"homeraAi/internal/vision"
)

// maxLibraryBody fits two base64 images of vision.MaxImageBytes plus the text fields.
const maxLibraryBody = 2*(vision.MaxImageBytes*4/3) + 1<<20

// SaveRequest is a finished transformation the user keeps. Images are data URIs.
type SaveRequest struct {
	OriginalImage  string `json:"original_image"`
	GeneratedImage string `json:"generated_image"`
	Prompt         string `json:"prompt"`
	Quality        string `json:"quality"`
	Resolution     string `json:"resolution"`
}

// ListLibrary handles GET /api/library.
func (h Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	results, err := h.Store.ListResults(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("list library failed")
		http.Error(w, "could not load library", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// SaveToLibrary handles POST /api/library. With an uploader configured the
// images are stored as objects; otherwise the data URIs are kept as-is.
func (h Handler) SaveToLibrary(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req SaveRequest
	if err := decodeJSON(w, r, &req, maxLibraryBody); err != nil {
		writeDecodeError(w, err)
		return
	}
	original, err := vision.ParseDataURI(req.OriginalImage)
	if err != nil {
		http.Error(w, "original_image must be a base64 data URI", http.StatusBadRequest)
		return
	}
	generated, err := vision.ParseDataURI(req.GeneratedImage)
	if err != nil {
		http.Error(w, "generated_image must be a base64 data URI", http.StatusBadRequest)
		return
	}

	result := storage.SavedResult{
		UserID:         user.ID,
		OriginalImage:  req.OriginalImage,
		GeneratedImage: req.GeneratedImage,
		Prompt:         strings.TrimSpace(req.Prompt),
		Quality:        req.Quality,
		Resolution:     req.Resolution,
		TierUsed:       string(user.Tier),
	}

	var thumb *vision.RenderedImage
	data, err := media.Thumbnail(generated.Data, media.DefaultThumbnailMaxDimension)
	switch {
	case err == nil:
		thumb = &vision.RenderedImage{Data: data, MIMEType: "image/jpeg"}
		result.Thumbnail = thumb.DataURI()
	case errors.Is(err, media.ErrImageTooLarge):
		http.Error(w, "generated_image dimensions are too large", http.StatusRequestEntityTooLarge)
		return
	default:
		log.Warn().Err(err).Msg("thumbnail generation failed")
	}

	if h.Uploader != nil {
		stored, err := h.uploadImages(r.Context(), user.ID, original, generated, thumb)
		switch {
		case err == nil:
			result.OriginalImage = stored[0].URL
			result.GeneratedImage = stored[1].URL
			result.MediaKeys = []string{stored[0].Key, stored[1].Key}
			if thumb != nil {
				result.Thumbnail = stored[2].URL
				result.MediaKeys = append(result.MediaKeys, stored[2].Key)
			}
		case errors.Is(err, media.ErrUploaderDisabled):
		default:
			log.Error().Err(err).Msg("library upload failed")
			http.Error(w, "could not store images", http.StatusInternalServerError)
			return
		}
	}

	saved, err := h.Store.SaveResult(r.Context(), result)
	if err != nil {
		log.Error().Err(err).Msg("save library entry failed")
		http.Error(w, "could not save result", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteFromLibrary handles DELETE /api/library/{id}.
func (h Handler) DeleteFromLibrary(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	result, err := h.Store.GetResult(r.Context(), user.ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "could not load result", http.StatusInternalServerError)
		return
	}
	if err := h.Store.DeleteResult(r.Context(), user.ID, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "could not delete result", http.StatusInternalServerError)
		return
	}

	if h.Uploader != nil {
		for _, key := range result.MediaKeys {
			if err := h.Uploader.Delete(r.Context(), key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("could not delete library object")
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadImages stores original, generated and (optionally) thumbnail
// concurrently. The returned slice keeps that order.
func (h Handler) uploadImages(ctx context.Context, folder string, original, generated vision.RenderedImage, thumb *vision.RenderedImage) ([]media.UploadResult, error) {
	images := []vision.RenderedImage{original, generated}
	names := []string{"original", "generated"}
	if thumb != nil {
		images = append(images, *thumb)
		names = append(names, "thumbnail")
	}

	stored := make([]media.UploadResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i := range images {
		g.Go(func() error {
			res, err := h.Uploader.Upload(gctx, media.UploadInput{
				Folder:      folder,
				Filename:    names[i] + media.ExtensionFor(images[i].MIMEType),
				ContentType: images[i].MIMEType,
				Body:        bytes.NewReader(images[i].Data),
				Size:        int64(len(images[i].Data)),
			})
			if err != nil {
				return err
			}
			stored[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, res := range stored {
			if res.Key != "" {
				_ = h.Uploader.Delete(ctx, res.Key)
			}
		}
		return nil, err
	}
	return stored, nil
}
