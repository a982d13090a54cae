package studio

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"homeraAi/internal/billing"
	"homeraAi/internal/storage"
)

type profileUpdate struct {
	DisplayName *string `json:"display_name"`
	Country     *string `json:"country"`
}

type planChange struct {
	Tier string `json:"tier"`
}

type planChangeResponse struct {
	User    storage.User     `json:"user"`
	Invoice *storage.Invoice `json:"invoice,omitempty"`
}

// UpdateProfile handles PATCH /api/account.
func (h Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req profileUpdate
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeDecodeError(w, err)
		return
	}
	var update storage.ProfileUpdate
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			http.Error(w, "display_name cannot be empty", http.StatusBadRequest)
			return
		}
		update.DisplayName = &name
	}
	if req.Country != nil {
		country := strings.TrimSpace(*req.Country)
		if country == "" {
			http.Error(w, "country cannot be empty", http.StatusBadRequest)
			return
		}
		update.Country = &country
	}

	updated, err := h.Store.UpdateProfile(r.Context(), user.ID, update)
	if err != nil {
		log.Error().Err(err).Msg("update profile failed")
		http.Error(w, "could not update profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// SetPaymentMethod handles PUT /api/account/payment-method.
func (h Handler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req billing.PaymentInput
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeDecodeError(w, err)
		return
	}
	updated, err := h.Billing.SetPaymentMethod(r.Context(), user.ID, req)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Quote handles GET /api/account/quote?tier=.
func (h Handler) Quote(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	quote, err := h.Billing.Quote(r.Context(), user.ID, r.URL.Query().Get("tier"))
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ChangePlan handles POST /api/account/plan.
func (h Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req planChange
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeDecodeError(w, err)
		return
	}
	updated, invoice, err := h.Billing.ChangePlan(r.Context(), user.ID, req.Tier)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planChangeResponse{User: updated, Invoice: invoice})
}

// Invoices handles GET /api/account/invoices.
func (h Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	invoices, err := h.Store.ListInvoices(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("list invoices failed")
		http.Error(w, "could not load invoices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func writeBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrUnknownTier), errors.Is(err, billing.ErrInvalidPaymentMethod):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, billing.ErrPaymentMethodRequired):
		http.Error(w, "add a payment method before choosing a paid plan", http.StatusPaymentRequired)
	case errors.Is(err, billing.ErrAlreadyOnPlan):
		http.Error(w, "this plan is already active", http.StatusConflict)
	case errors.Is(err, storage.ErrConflict):
		http.Error(w, "account changed during the request, try again", http.StatusConflict)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	default:
		log.Error().Err(err).Msg("billing request failed")
		http.Error(w, "billing request failed", http.StatusInternalServerError)
	}
}
