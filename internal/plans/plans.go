package plans

import "strings"

// Tier identifies a subscription level.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierPremium2K Tier = "premium_2k"
	TierUltra4K   Tier = "ultra_4k"
	TierUltra16K  Tier = "ultra_realistic_16k"
)

// DefaultTier is used whenever a tier id is missing or unknown.
const DefaultTier = TierStandard

// Quality is the rendering quality engine the interpreter must request.
type Quality string

const (
	QualityDraft          Quality = "DRAFT"
	QualityStandard       Quality = "STANDARD"
	QualityHigh           Quality = "HIGH"
	QualityHighDetail     Quality = "HIGH_DETAIL"
	QualityUltraRealistic Quality = "ULTRA_REALISTIC"
)

// Qualities lists every quality value accepted in a transformation plan.
var Qualities = []Quality{QualityDraft, QualityStandard, QualityHigh, QualityHighDetail, QualityUltraRealistic}

// QualityKey is the short label shown next to a plan.
type QualityKey string

const (
	QualityKeyStandard QualityKey = "standard"
	QualityKey2K       QualityKey = "2k"
	QualityKey4K       QualityKey = "4k"
	QualityKey16K      QualityKey = "16k"
)

// Plan describes a subscription tier and what it unlocks.
type Plan struct {
	ID         Tier       `json:"id"`
	Name       string     `json:"name"`
	Resolution string     `json:"resolution"`
	PriceExVAT float64    `json:"price_ex_vat"`
	QualityKey QualityKey `json:"quality_key"`
	Quality    Quality    `json:"quality"`
	Features   []string   `json:"features"`
}

// IsPaid reports whether the plan costs money.
func (p Plan) IsPaid() bool {
	return p.PriceExVAT > 0
}

var catalog = []Plan{
	{
		ID:         TierStandard,
		Name:       "Standard (1080p)",
		Resolution: "1920x1080",
		PriceExVAT: 0,
		QualityKey: QualityKeyStandard,
		Quality:    QualityStandard,
		Features: []string{
			"Standard AI visualisation",
			"Auto-upscaling to 1080p",
			"Web Quality Downloads",
		},
	},
	{
		ID:         TierPremium2K,
		Name:       "Premium 2K (1440p)",
		Resolution: "2560x1440",
		PriceExVAT: 24.99,
		QualityKey: QualityKey2K,
		Quality:    QualityHighDetail,
		Features: []string{
			"High-quality visualisation",
			"Auto-upscaling to 1440p",
			"Commercial License",
			"Priority Rendering",
		},
	},
	{
		ID:         TierUltra4K,
		Name:       "Ultra 4K (2160p)",
		Resolution: "3840x2160",
		PriceExVAT: 34.99,
		QualityKey: QualityKey4K,
		Quality:    QualityUltraRealistic,
		Features: []string{
			"Ultra-high quality rendering",
			"Auto-upscaling to 2160p",
			"Dedicated GPU Access",
			"No Watermark",
		},
	},
	{
		ID:         TierUltra16K,
		Name:       "Ultra-Realistic 16K",
		Resolution: "15369x8640",
		PriceExVAT: 99.00,
		QualityKey: QualityKey16K,
		Quality:    QualityUltraRealistic,
		Features: []string{
			"Flagship 16K Resolution",
			"Ultra-realistic engine",
			"Instant Processing",
			"24/7 Priority Support",
		},
	},
}

var legacyAliases = map[string]Tier{
	"FREE":       TierStandard,
	"PREMIUM_2K": TierPremium2K,
	"ULTRA_4K":   TierUltra4K,
	"ULTRA_16K":  TierUltra16K,
}

// ParseTier normalises a tier identifier. Upper-case identifiers from older
// clients are mapped onto the canonical lower-case tiers.
func ParseTier(id string) (Tier, bool) {
	clean := strings.TrimSpace(id)
	for _, p := range catalog {
		if string(p.ID) == clean {
			return p.ID, true
		}
	}
	if tier, ok := legacyAliases[clean]; ok {
		return tier, true
	}
	return DefaultTier, false
}

// Lookup returns the plan for id, falling back to the free tier for unknown ids.
func Lookup(id string) Plan {
	tier, _ := ParseTier(id)
	for _, p := range catalog {
		if p.ID == tier {
			return clonePlan(p)
		}
	}
	return clonePlan(catalog[0])
}

// All returns every plan ordered by price.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, clonePlan(p))
	}
	return out
}

// ValidQuality reports whether q is one of the known quality values.
func ValidQuality(q Quality) bool {
	for _, known := range Qualities {
		if q == known {
			return true
		}
	}
	return false
}

func clonePlan(p Plan) Plan {
	p.Features = append([]string(nil), p.Features...)
	return p
}
