package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/obs"
	"github.com/noah-isme/storefront-engine/internal/pricing"
	"github.com/noah-isme/storefront-engine/internal/promocode"
)

var (
	// ErrEmptyCart is returned when an order is placed from an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotConfigured is returned when required collaborators are missing.
	ErrNotConfigured = errors.New("checkout service not configured")
)

// PromocodeRejectedError reports a promocode that failed validation at order placement.
type PromocodeRejectedError struct {
	Result promocode.Result
}

func (e *PromocodeRejectedError) Error() string {
	return fmt.Sprintf("promocode rejected: %s", e.Result.Reason)
}

// SettingsProvider supplies the pricing settings in effect. *pricing.Provider never fails.
type SettingsProvider interface {
	Settings(ctx context.Context) pricing.Settings
}

// PromocodeValidator is satisfied by *promocode.Validator.
type PromocodeValidator interface {
	Validate(ctx context.Context, req promocode.Request) (promocode.Result, error)
}

// CartSource loads a signed-in shopper's cart.
type CartSource interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
}

// OrderStore persists placed orders. Place must write the order, its lines and the
// promocode redemption and clear the cart in one transaction.
type OrderStore interface {
	Place(ctx context.Context, o Order) error
}

// Order is a placed order with the totals frozen at placement time.
type Order struct {
	ID             string
	UserID         string
	Status         string
	ShippingMethod string
	PaymentMethod  string
	Promocode      string
	PromocodeID    string
	Items          []cart.LineItem
	Totals         pricing.Totals
	TaxBase        pricing.TaxBase
	TaxRateBps     int64
	CreatedAt      time.Time
}

// QuoteRequest prices an arbitrary set of lines.
type QuoteRequest struct {
	Items          []pricing.Line
	ShippingMethod string
	PaymentMethod  string
	Promocode      string
	UserID         string
}

// Quote is a priced order. Promocode is set whenever a code was supplied, valid or not.
type Quote struct {
	Totals         pricing.Totals
	ShippingMethod string
	TaxBase        pricing.TaxBase
	TaxRateBps     int64
	Promocode      *promocode.Result
}

// PlaceOrderRequest places an order from the caller's server cart.
type PlaceOrderRequest struct {
	UserID         string
	ShippingMethod string
	PaymentMethod  string
	Promocode      string
}

// Service ties settings, promocodes and pricing together for checkout.
type Service struct {
	Settings SettingsProvider
	Promos   PromocodeValidator
	Carts    CartSource
	Orders   OrderStore
	Now      func() time.Time
	Logger   zerolog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ValidatePromocode checks a code against an order value without pricing the order.
func (s *Service) ValidatePromocode(ctx context.Context, req promocode.Request) (promocode.Result, error) {
	if s == nil || s.Promos == nil {
		return promocode.Result{}, ErrNotConfigured
	}
	return s.Promos.Validate(ctx, req)
}

// Quote prices lines with the current settings. A rejected promocode does not fail the
// quote; it is reported on the result and no discount is applied.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if s == nil || s.Settings == nil {
		return Quote{}, ErrNotConfigured
	}
	subtotal, err := pricing.Subtotal(req.Items)
	if err != nil {
		obs.PricingComputeTotal.WithLabelValues("invalid").Inc()
		return Quote{}, err
	}
	var (
		discount pricing.Money
		promo    *promocode.Result
	)
	if code := strings.TrimSpace(req.Promocode); code != "" {
		res, err := s.ValidatePromocode(ctx, promocode.Request{
			Code:     code,
			Subtotal: subtotal,
			Items:    promocodeItems(req.Items),
			UserID:   req.UserID,
		})
		if err != nil {
			obs.PricingComputeTotal.WithLabelValues("error").Inc()
			return Quote{}, err
		}
		promo = &res
		if res.Valid {
			discount = res.Discount
		}
	}
	settings := s.Settings.Settings(ctx)
	totals, err := pricing.Compute(pricing.Input{
		Items:          req.Items,
		ShippingMethod: req.ShippingMethod,
		Discount:       discount,
		PaymentMethod:  req.PaymentMethod,
	}, settings)
	if err != nil {
		obs.PricingComputeTotal.WithLabelValues("invalid").Inc()
		return Quote{}, err
	}
	obs.PricingComputeTotal.WithLabelValues("ok").Inc()
	return Quote{
		Totals:         totals,
		ShippingMethod: resolvedMethod(settings, req.ShippingMethod),
		TaxBase:        settings.TaxBase,
		TaxRateBps:     settings.TaxRateBps,
		Promocode:      promo,
	}, nil
}

// PlaceOrder prices the caller's server cart and persists the order. A supplied promocode
// must be valid; the redemption is recorded with the order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error) {
	if s == nil || s.Carts == nil || s.Orders == nil {
		return Order{}, ErrNotConfigured
	}
	c, err := s.Carts.Get(ctx, req.UserID)
	if err != nil {
		return Order{}, fmt.Errorf("load cart: %w", err)
	}
	if c.Empty() {
		return Order{}, ErrEmptyCart
	}
	q, err := s.Quote(ctx, QuoteRequest{
		Items:          c.PricingLines(),
		ShippingMethod: req.ShippingMethod,
		PaymentMethod:  req.PaymentMethod,
		Promocode:      req.Promocode,
		UserID:         req.UserID,
	})
	if err != nil {
		return Order{}, err
	}
	o := Order{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Status:         "pending",
		ShippingMethod: q.ShippingMethod,
		PaymentMethod:  strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		Items:          c.Items,
		Totals:         q.Totals,
		TaxBase:        q.TaxBase,
		TaxRateBps:     q.TaxRateBps,
		CreatedAt:      s.now().UTC(),
	}
	if q.Promocode != nil {
		if !q.Promocode.Valid {
			return Order{}, &PromocodeRejectedError{Result: *q.Promocode}
		}
		o.Promocode = q.Promocode.Promocode.Code
		o.PromocodeID = q.Promocode.Promocode.ID
	}
	if err := s.Orders.Place(ctx, o); err != nil {
		return Order{}, err
	}
	s.Logger.Info().
		Str("order_id", o.ID).
		Str("user_id", o.UserID).
		Int64("grand_total", o.Totals.GrandTotal).
		Str("promocode", o.Promocode).
		Msg("order placed")
	return o, nil
}

func promocodeItems(lines []pricing.Line) []promocode.Item {
	items := make([]promocode.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, promocode.Item{ProductID: l.ProductID, Category: l.Category})
	}
	return items
}

// resolvedMethod names the tier Compute actually charged.
func resolvedMethod(s pricing.Settings, method string) string {
	key := strings.ToLower(strings.TrimSpace(method))
	if _, ok := s.ShippingTiers[key]; ok {
		return key
	}
	return pricing.StandardMethod
}
