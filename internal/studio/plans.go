package studio

import (
	"net/http"
	"strings"

	"homeraAi/internal/auth"
	"homeraAi/internal/billing"
	"homeraAi/internal/plans"
)

// PlanOffer is a catalog entry priced for one country.
type PlanOffer struct {
	plans.Plan
	Price   billing.Breakdown `json:"price"`
	Current bool              `json:"current"`
}

// Plans handles GET /api/plans. The country comes from ?country=, then the
// logged-in user, then the default country.
func (h Handler) Plans(w http.ResponseWriter, r *http.Request) {
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	user, loggedIn := auth.UserFromContext(r.Context())
	if country == "" && loggedIn {
		country = user.Country
	}
	if country == "" {
		country = auth.DefaultCountry
	}

	catalog := plans.All()
	offers := make([]PlanOffer, 0, len(catalog))
	for _, p := range catalog {
		offers = append(offers, PlanOffer{
			Plan:    p,
			Price:   billing.Quote(p, country),
			Current: loggedIn && user.Tier == p.ID,
		})
	}
	writeJSON(w, http.StatusOK, offers)
}
