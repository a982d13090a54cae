package billing

import (
	"math"
	"sort"

	"homeraAi/internal/plans"
)

// DefaultVATRate applies to every country without an explicit rate.
const DefaultVATRate = 20

var vatRates = map[string]int{
	"Netherlands":    21,
	"Germany":        19,
	"United Kingdom": 20,
	"France":         20,
	"Belgium":        21,
	"Spain":          21,
	"United States":  0,
}

// VATRate returns the whole-percent rate for country. Names match exactly.
func VATRate(country string) int {
	if rate, ok := vatRates[country]; ok {
		return rate
	}
	return DefaultVATRate
}

// VAT returns the unrounded tax owed on priceExVAT.
func VAT(priceExVAT float64, country string) float64 {
	return priceExVAT * float64(VATRate(country)) / 100
}

// Total returns the unrounded price including VAT.
func Total(priceExVAT float64, country string) float64 {
	return priceExVAT + VAT(priceExVAT, country)
}

// Countries lists the countries with a known rate, sorted by name.
func Countries() []string {
	out := make([]string, 0, len(vatRates))
	for name := range vatRates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RoundCents rounds half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Breakdown is a display-ready price, rounded once.
type Breakdown struct {
	Tier       plans.Tier `json:"tier"`
	Country    string     `json:"country"`
	PriceExVAT float64    `json:"price_ex_vat"`
	VATRate    int        `json:"vat_rate"`
	VAT        float64    `json:"vat"`
	Total      float64    `json:"total"`
}

// Quote prices plan for a customer in country.
func Quote(plan plans.Plan, country string) Breakdown {
	vat := VAT(plan.PriceExVAT, country)
	return Breakdown{
		Tier:       plan.ID,
		Country:    country,
		PriceExVAT: RoundCents(plan.PriceExVAT),
		VATRate:    VATRate(country),
		VAT:        RoundCents(vat),
		Total:      RoundCents(plan.PriceExVAT + vat),
	}
}
