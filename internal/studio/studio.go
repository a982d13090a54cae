// Package studio serves the transformation workspace: running the pipeline,
// streaming its log, the saved-results library and account billing.
package studio

import (
	"encoding/json"
	"errors"
	"net/http"

	"homeraAi/internal/auth"
	"homeraAi/internal/billing"
	"homeraAi/internal/events"
	"homeraAi/internal/media"
	"homeraAi/internal/pipeline"
	"homeraAi/internal/storage"
)

// Handler bundles dependencies for studio endpoints. Every route expects
// auth.RequireAuth in front of it except Plans.
type Handler struct {
	Store    storage.Store
	Pipeline *pipeline.Pipeline
	Broker   *events.Broker
	Billing  *billing.Service
	Uploader media.Uploader
}

// sessionKey scopes cancel-and-replace and event streams to one account.
func sessionKey(user storage.User) string {
	return user.ID
}

func currentUser(w http.ResponseWriter, r *http.Request) (storage.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// maxJSONBody caps request bodies that carry no images.
const maxJSONBody = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "invalid request body", http.StatusBadRequest)
}
