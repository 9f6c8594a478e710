package promocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/obs"
	"github.com/noah-isme/storefront-engine/internal/pricing"
)

var (
	// ErrNotFound is returned by repositories when no promocode has the given code.
	ErrNotFound = errors.New("promocode not found")
	// ErrInvalidRequest marks malformed validation requests (missing code, negative subtotal).
	ErrInvalidRequest = errors.New("invalid promocode request")
)

// Reason is the machine-readable cause of a rejection.
type Reason string

const (
	ReasonInvalidOrExpired   Reason = "INVALID_OR_EXPIRED"
	ReasonBelowMinimum       Reason = "BELOW_MINIMUM"
	ReasonUsageLimitExceeded Reason = "USAGE_LIMIT_EXCEEDED"
	ReasonNotApplicable      Reason = "NOT_APPLICABLE_TO_CART"
)

// Repository looks promocodes up by canonical code.
type Repository interface {
	Lookup(ctx context.Context, code string) (Promocode, error)
}

// UsageCounter reports how often a user already redeemed a promocode.
type UsageCounter interface {
	CountRedemptions(ctx context.Context, promocodeID, userID string) (int, error)
}

// Item is the part of a cart line the scope check needs.
type Item struct {
	ProductID string
	Category  string
}

// Request is the validation input. UserID is empty for anonymous callers.
type Request struct {
	Code       string
	Subtotal   pricing.Money
	Items      []Item
	Categories []string
	UserID     string
}

// Result is the outcome of a validation. Rejections are results, not errors.
type Result struct {
	Valid         bool
	Reason        Reason
	Message       string
	Discount      pricing.Money
	AmountNeeded  pricing.Money
	MinOrderValue pricing.Money
	Promocode     *Promocode
}

// Validator evaluates promocode eligibility against a cart.
type Validator struct {
	Repo     Repository
	Usage    UsageCounter
	Now      func() time.Time
	Currency string
	Logger   zerolog.Logger
}

// Validate runs the eligibility gates in order and returns the first failing one, or the
// granted discount. Errors are reserved for malformed requests and infrastructure failures.
func (v *Validator) Validate(ctx context.Context, req Request) (Result, error) {
	if v == nil || v.Repo == nil {
		return Result{}, errors.New("promocode validator not configured")
	}
	code := Canonicalize(req.Code)
	if code == "" {
		return Result{}, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	if req.Subtotal < 0 || req.Subtotal > pricing.MaxAmount {
		return Result{}, fmt.Errorf("%w: subtotal out of range", ErrInvalidRequest)
	}

	promo, err := v.Repo.Lookup(ctx, code)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Result{}, fmt.Errorf("lookup promocode: %w", err)
	}
	if err != nil || !promo.Live(v.now()) {
		return v.reject(code, Result{Reason: ReasonInvalidOrExpired, Message: "this code is invalid or has expired"}), nil
	}

	if req.Subtotal < promo.MinOrderValue {
		needed := promo.MinOrderValue - req.Subtotal
		return v.reject(code, Result{
			Reason:        ReasonBelowMinimum,
			Message:       fmt.Sprintf("add %s%s more to use this code", v.currency(), pricing.FormatMajor(needed)),
			AmountNeeded:  needed,
			MinOrderValue: promo.MinOrderValue,
		}), nil
	}

	if promo.Exhausted() {
		return v.reject(code, Result{Reason: ReasonUsageLimitExceeded, Message: "this code has reached its usage limit"}), nil
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" && promo.UsageLimitPerUser > 0 && v.Usage != nil {
		used, err := v.Usage.CountRedemptions(ctx, promo.ID, userID)
		if err != nil {
			return Result{}, fmt.Errorf("count redemptions: %w", err)
		}
		if used >= promo.UsageLimitPerUser {
			return v.reject(code, Result{Reason: ReasonUsageLimitExceeded, Message: "you have already used this code the maximum number of times"}), nil
		}
	}

	productIDs := make([]string, 0, len(req.Items))
	categories := append([]string(nil), req.Categories...)
	for _, it := range req.Items {
		productIDs = append(productIDs, it.ProductID)
		if it.Category != "" {
			categories = append(categories, it.Category)
		}
	}
	if !promo.Scope.Matches(productIDs, categories) {
		return v.reject(code, Result{Reason: ReasonNotApplicable, Message: "this code does not apply to the items in your cart"}), nil
	}

	obs.PromocodeValidationTotal.WithLabelValues("valid").Inc()
	return Result{
		Valid:     true,
		Discount:  promo.Discount.Apply(req.Subtotal),
		Promocode: &promo,
	}, nil
}

func (v *Validator) reject(code string, res Result) Result {
	obs.PromocodeValidationTotal.WithLabelValues(string(res.Reason)).Inc()
	v.Logger.Debug().Str("code", code).Str("reason", string(res.Reason)).Msg("promocode rejected")
	return res
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Validator) currency() string {
	if v.Currency != "" {
		return v.Currency
	}
	return "₹"
}
