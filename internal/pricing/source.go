package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/storefront-engine/internal/resilience"
)

// ErrSettingsUnavailable wraps every failure to obtain settings from a Source.
var ErrSettingsUnavailable = errors.New("pricing settings unavailable")

// Source fetches the current pricing settings from wherever they are administered.
type Source interface {
	Fetch(ctx context.Context) (Settings, error)
}

// Document is the wire and file shape of pricing settings. Amounts are in major units.
type Document struct {
	TaxRatePercent decimal.Decimal         `json:"taxRatePercent"`
	TaxBase        string                  `json:"taxBase,omitempty"`
	ShippingTiers  map[string]TierDocument `json:"shippingTiers"`
	CODSurcharge   decimal.Decimal         `json:"codSurcharge"`
}

// TierDocument is one shipping tier inside a Document.
type TierDocument struct {
	Rate                  decimal.Decimal `json:"rate"`
	FreeShippingThreshold decimal.Decimal `json:"freeShippingThreshold"`
}

// Settings converts the document into minor-unit settings. A blank tax base is left
// empty so the provider can apply the configured one.
func (d Document) Settings() (Settings, error) {
	var base TaxBase
	if strings.TrimSpace(d.TaxBase) != "" {
		parsed, err := ParseTaxBase(d.TaxBase)
		if err != nil {
			return Settings{}, &ValidationError{Field: "taxBase", Reason: err.Error()}
		}
		base = parsed
	}
	s := Settings{
		TaxRateBps:    PercentToBps(d.TaxRatePercent),
		TaxBase:       base,
		ShippingTiers: make(map[string]Tier, len(d.ShippingTiers)),
		CODSurcharge:  FromMajor(d.CODSurcharge),
	}
	for method, tier := range d.ShippingTiers {
		s.ShippingTiers[strings.ToLower(strings.TrimSpace(method))] = Tier{
			Rate:                  FromMajor(tier.Rate),
			FreeShippingThreshold: FromMajor(tier.FreeShippingThreshold),
		}
	}
	return s, nil
}

// DocumentFrom renders settings back into the major-unit document.
func DocumentFrom(s Settings) Document {
	doc := Document{
		TaxRatePercent: BpsToPercent(s.TaxRateBps),
		TaxBase:        string(s.TaxBase),
		ShippingTiers:  make(map[string]TierDocument, len(s.ShippingTiers)),
		CODSurcharge:   decimal.New(s.CODSurcharge, -minorDigits),
	}
	for method, tier := range s.ShippingTiers {
		doc.ShippingTiers[method] = TierDocument{
			Rate:                  decimal.New(tier.Rate, -minorDigits),
			FreeShippingThreshold: decimal.New(tier.FreeShippingThreshold, -minorDigits),
		}
	}
	return doc
}

// HTTPSource reads settings from the admin settings service at GET {BaseURL}/settings/pricing.
type HTTPSource struct {
	BaseURL string
	Client  *resilience.HTTPClient
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (Settings, error) {
	if s == nil || s.Client == nil || strings.TrimSpace(s.BaseURL) == "" {
		return Settings{}, fmt.Errorf("%w: http source not configured", ErrSettingsUnavailable)
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/settings/pricing"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrSettingsUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Settings{}, fmt.Errorf("%w: status %d", ErrSettingsUnavailable, resp.StatusCode)
	}
	var doc Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return Settings{}, fmt.Errorf("%w: decode: %v", ErrSettingsUnavailable, err)
	}
	return doc.Settings()
}

// FileSource reads the settings document from a YAML (or JSON) file on disk.
type FileSource struct {
	Path string
}

type fileDocument struct {
	TaxRatePercent float64 `yaml:"taxRatePercent"`
	TaxBase        string  `yaml:"taxBase"`
	ShippingTiers  map[string]struct {
		Rate                  float64 `yaml:"rate"`
		FreeShippingThreshold float64 `yaml:"freeShippingThreshold"`
	} `yaml:"shippingTiers"`
	CODSurcharge float64 `yaml:"codSurcharge"`
}

// Fetch implements Source.
func (s *FileSource) Fetch(context.Context) (Settings, error) {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return Settings{}, fmt.Errorf("%w: file source not configured", ErrSettingsUnavailable)
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrSettingsUnavailable, err)
	}
	var fd fileDocument
	if err := yaml.Unmarshal(raw, &fd); err != nil {
		return Settings{}, fmt.Errorf("%w: parse %s: %v", ErrSettingsUnavailable, s.Path, err)
	}
	doc := Document{
		TaxRatePercent: decimal.NewFromFloat(fd.TaxRatePercent),
		TaxBase:        fd.TaxBase,
		ShippingTiers:  make(map[string]TierDocument, len(fd.ShippingTiers)),
		CODSurcharge:   decimal.NewFromFloat(fd.CODSurcharge),
	}
	for method, tier := range fd.ShippingTiers {
		doc.ShippingTiers[method] = TierDocument{
			Rate:                  decimal.NewFromFloat(tier.Rate),
			FreeShippingThreshold: decimal.NewFromFloat(tier.FreeShippingThreshold),
		}
	}
	return doc.Settings()
}
