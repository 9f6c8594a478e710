package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type routeKey struct{}

// WithRoute tags ctx with the chi pattern that served a storefront request, e.g.
// "/api/v1/cart/items/{productId}", so logs and metrics group by route rather than by path.
func WithRoute(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routeKey{}, pattern)
}

// RouteFrom returns the pattern set by WithRoute, or "".
func RouteFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routeKey{}).(string)
	return pattern
}

// routeOf falls back to chi's own routing context for requests that bypassed
// RoutePatternMiddleware.
func routeOf(r *http.Request) string {
	if route := RouteFrom(r.Context()); route != "" {
		return route
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
