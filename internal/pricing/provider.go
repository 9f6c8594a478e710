package pricing

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/cache"
	"github.com/noah-isme/storefront-engine/internal/obs"
)

// Provider resolves the settings used for every totals computation. It never fails:
// when the source is unreachable or returns unusable data the injected Fallback is
// served instead and the event is counted.
type Provider struct {
	Source   Source
	Cache    *cache.JSON
	Fallback Settings
	Logger   zerolog.Logger
}

// NewProvider builds a provider. A zero fallback is replaced by DefaultSettings.
func NewProvider(src Source, c *cache.JSON, fallback Settings, logger zerolog.Logger) *Provider {
	if len(fallback.ShippingTiers) == 0 {
		fallback = DefaultSettings()
	}
	if fallback.TaxBase == "" {
		fallback.TaxBase = TaxBaseGross
	}
	return &Provider{Source: src, Cache: c, Fallback: fallback, Logger: logger}
}

// Settings returns the current settings.
func (p *Provider) Settings(ctx context.Context) Settings {
	if p.Source == nil {
		return p.Fallback
	}
	var cached Settings
	if ok, err := p.Cache.Get(ctx, cache.SettingsKey(), &cached); err != nil {
		p.Logger.Debug().Err(err).Msg("pricing settings cache read failed")
	} else if ok && cached.Validate() == nil {
		return cached.WithDefaults(p.Fallback)
	}

	fetched, err := p.Source.Fetch(ctx)
	if err == nil {
		fetched = fetched.WithDefaults(p.Fallback)
		err = fetched.Validate()
	}
	if err != nil {
		obs.SettingsFallbackTotal.WithLabelValues(sourceName(p.Source)).Inc()
		p.Logger.Warn().Err(err).Str("source", sourceName(p.Source)).Msg("pricing settings unavailable, using fallback")
		return p.Fallback
	}
	if err := p.Cache.Set(ctx, cache.SettingsKey(), fetched); err != nil {
		p.Logger.Debug().Err(err).Msg("pricing settings cache write failed")
	}
	return fetched
}

func sourceName(src Source) string {
	switch src.(type) {
	case *HTTPSource:
		return "http"
	case *FileSource:
		return "file"
	default:
		return "custom"
	}
}
