package main

import (
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/storefront-engine/internal/app"
	"github.com/noah-isme/storefront-engine/internal/config"
	"github.com/noah-isme/storefront-engine/internal/ratelimit"
)

func newPromoLimiter(cfg *config.Config, deps *app.Dependencies) (*limiter.Limiter, error) {
	store, err := ratelimit.NewRedisStore(deps.Redis, "storefront:ratelimit:promocode")
	if err != nil {
		return nil, err
	}
	return ratelimit.New(store, cfg.PromocodeRateLimit)
}
