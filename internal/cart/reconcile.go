package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/storefront-engine/internal/common"
	"github.com/noah-isme/storefront-engine/internal/obs"
)

// ReconcileError reports a failed login-time merge. The anonymous cart is left intact so
// the merge can be retried.
type ReconcileError struct {
	Err error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("cart reconciliation failed: %v", e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// SyncToken derives the merge idempotency token from a cart identity (the guest cart
// nonce) and its lines. Line order and duplicate lines do not change the token.
func SyncToken(identity string, items []LineItem) string {
	qty := make(map[string]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids)+1)
	parts = append(parts, identity)
	for _, id := range ids {
		parts = append(parts, id+"="+strconv.Itoa(qty[id]))
	}
	return common.Sha256Hex(parts...)
}

// Reconciler merges a guest cart into the shopper's account once per login.
type Reconciler struct {
	Logger zerolog.Logger
	lines  metric.Int64Histogram
}

// NewReconciler builds a reconciler that reports merged line counts through the global
// OpenTelemetry meter provider.
func NewReconciler(logger zerolog.Logger) *Reconciler {
	r := &Reconciler{Logger: logger}
	h, err := otel.Meter("github.com/noah-isme/storefront-engine/internal/cart").Int64Histogram(
		"cart.reconcile.lines",
		metric.WithDescription("Anonymous cart lines submitted per login merge."),
	)
	if err == nil {
		r.lines = h
	}
	return r
}

// Reconcile submits every anonymous line in a single merge call. On success the merged
// server cart becomes the authenticated snapshot and the anonymous cart is discarded. On
// failure nothing local changes and a *ReconcileError is returned.
func (r *Reconciler) Reconcile(ctx context.Context, anon *AnonymousStore, authed *AuthenticatedStore) (SyncResult, error) {
	guest := anon.Snapshot()
	if guest.Empty() {
		c, err := authed.Refresh(ctx)
		if err != nil {
			return SyncResult{}, r.fail(ctx, err, 0)
		}
		obs.CartReconcileTotal.WithLabelValues("empty").Inc()
		return SyncResult{Cart: c}, nil
	}

	items, err := Normalize(guest.Items)
	if err != nil {
		return SyncResult{}, r.fail(ctx, err, len(guest.Items))
	}
	req := SyncRequest{Items: items, Token: SyncToken(anon.Nonce(), items)}
	res, err := authed.Sync(ctx, req)
	if err != nil {
		return SyncResult{}, r.fail(ctx, err, len(items))
	}
	if err := anon.Discard(); err != nil {
		// The server remembers the token, so a leftover guest cart merges as a no-op later.
		r.Logger.Warn().Err(err).Msg("anonymous cart not discarded after merge")
	}
	outcome := "merged"
	if res.Replayed {
		outcome = "replayed"
	}
	r.record(ctx, len(items), outcome)
	obs.CartReconcileTotal.WithLabelValues(outcome).Inc()
	if len(res.Skipped) > 0 {
		r.Logger.Info().Strs("skipped", res.Skipped).Msg("cart merge skipped unavailable products")
	}
	return res, nil
}

func (r *Reconciler) fail(ctx context.Context, err error, lines int) error {
	obs.CartReconcileTotal.WithLabelValues("failed").Inc()
	r.record(ctx, lines, "failed")
	r.Logger.Error().Err(err).Int("lines", lines).Msg("cart reconciliation failed")
	return &ReconcileError{Err: err}
}

func (r *Reconciler) record(ctx context.Context, lines int, outcome string) {
	if r.lines == nil {
		return
	}
	r.lines.Record(ctx, int64(lines), metric.WithAttributes(attribute.String("outcome", outcome)))
}
