package pricing

import (
	"fmt"
	"strings"
)

// StandardMethod is the shipping tier used when the requested method is unknown.
const StandardMethod = "standard"

// PaymentCOD is the payment method that attracts the cash-on-delivery surcharge.
const PaymentCOD = "cod"

// TaxBase selects which amount tax is levied on.
type TaxBase string

const (
	// TaxBaseGross levies tax on the pre-discount subtotal.
	TaxBaseGross TaxBase = "gross"
	// TaxBaseNet levies tax on the subtotal after the promocode discount.
	TaxBaseNet TaxBase = "net"
)

// ParseTaxBase resolves a configured tax base, defaulting to gross.
func ParseTaxBase(value string) (TaxBase, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(TaxBaseGross):
		return TaxBaseGross, nil
	case string(TaxBaseNet):
		return TaxBaseNet, nil
	default:
		return "", fmt.Errorf("unsupported tax base %q", value)
	}
}

// Tier describes the cost of one shipping method.
type Tier struct {
	Rate                  Money `json:"rate"`
	FreeShippingThreshold Money `json:"freeShippingThreshold"`
}

// Settings is the read-only pricing configuration supplied by the settings provider.
type Settings struct {
	TaxRateBps    int64
	TaxBase       TaxBase
	ShippingTiers map[string]Tier
	CODSurcharge  Money
}

// DefaultSettings returns the canonical fallback used when settings cannot be fetched:
// 18% tax on the gross subtotal, standard shipping 50 (free from 500) and a COD surcharge of 25.
func DefaultSettings() Settings {
	return Settings{
		TaxRateBps: 1800,
		TaxBase:    TaxBaseGross,
		ShippingTiers: map[string]Tier{
			StandardMethod: {Rate: 5000, FreeShippingThreshold: 50000},
		},
		CODSurcharge: 2500,
	}
}

// Tier resolves the tier for method, falling back to the standard tier.
func (s Settings) Tier(method string) (Tier, bool) {
	key := strings.ToLower(strings.TrimSpace(method))
	if tier, ok := s.ShippingTiers[key]; ok {
		return tier, true
	}
	tier, ok := s.ShippingTiers[StandardMethod]
	return tier, ok
}

// Validate reports negative or otherwise unusable settings values.
func (s Settings) Validate() error {
	if s.TaxRateBps < 0 {
		return &ValidationError{Field: "taxRatePercent", Reason: "must not be negative"}
	}
	if s.TaxRateBps > MaxBps {
		return &ValidationError{Field: "taxRatePercent", Reason: "must be at most 100"}
	}
	if s.CODSurcharge < 0 {
		return &ValidationError{Field: "codSurcharge", Reason: "must not be negative"}
	}
	if s.CODSurcharge > MaxAmount {
		return &ValidationError{Field: "codSurcharge", Reason: "exceeds the supported maximum"}
	}
	for method, tier := range s.ShippingTiers {
		if tier.Rate < 0 || tier.FreeShippingThreshold < 0 {
			return &ValidationError{Field: "shippingTiers." + method, Reason: "must not be negative"}
		}
		if tier.Rate > MaxAmount || tier.FreeShippingThreshold > MaxAmount {
			return &ValidationError{Field: "shippingTiers." + method, Reason: "exceeds the supported maximum"}
		}
	}
	if _, err := ParseTaxBase(string(s.TaxBase)); err != nil {
		return &ValidationError{Field: "taxBase", Reason: err.Error()}
	}
	return nil
}

// WithDefaults fills a missing standard tier and tax base from fallback.
func (s Settings) WithDefaults(fallback Settings) Settings {
	tiers := make(map[string]Tier, len(s.ShippingTiers)+1)
	for method, tier := range s.ShippingTiers {
		tiers[strings.ToLower(strings.TrimSpace(method))] = tier
	}
	if _, ok := tiers[StandardMethod]; !ok {
		if std, ok := fallback.ShippingTiers[StandardMethod]; ok {
			tiers[StandardMethod] = std
		}
	}
	s.ShippingTiers = tiers
	if s.TaxBase == "" {
		s.TaxBase = fallback.TaxBase
	}
	return s
}
