package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownShippingMethod is returned when neither the requested nor the standard tier exists.
var ErrUnknownShippingMethod = errors.New("unknown shipping method")

// ValidationError reports malformed pricing input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "invalid pricing input: " + e.Reason
	}
	return fmt.Sprintf("invalid pricing input: %s %s", e.Field, e.Reason)
}

// Line describes a line item used for pricing calculation.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice Money
	Category  string
}

// Input aggregates everything Compute needs besides settings.
// Discount is the amount granted by a validated promocode, zero when none applies.
type Input struct {
	Items          []Line
	ShippingMethod string
	Discount       Money
	PaymentMethod  string
}

// Totals is the derived breakdown for an order. It is never persisted by the engine.
type Totals struct {
	Subtotal       Money
	ShippingCost   Money
	TaxAmount      Money
	DiscountAmount Money
	CODSurcharge   Money
	GrandTotal     Money
}

// Subtotal sums unit price times quantity after validating every line. The result never
// exceeds MaxAmount; larger carts are rejected rather than wrapped.
func Subtotal(items []Line) (Money, error) {
	if len(items) == 0 {
		return 0, &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	var subtotal Money
	for i, it := range items {
		switch {
		case it.Quantity < 1:
			return 0, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be at least 1"}
		case it.Quantity > MaxQuantity:
			return 0, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: fmt.Sprintf("must be at most %d", MaxQuantity)}
		case it.UnitPrice < 0:
			return 0, &ValidationError{Field: fmt.Sprintf("items[%d].price", i), Reason: "must not be negative"}
		case it.UnitPrice > MaxAmount:
			return 0, &ValidationError{Field: fmt.Sprintf("items[%d].price", i), Reason: "exceeds the supported maximum"}
		}
		// subtotal <= MaxAmount, so neither side of the check can overflow
		if it.UnitPrice > (MaxAmount-subtotal)/Money(it.Quantity) {
			return 0, &ValidationError{Field: "items", Reason: "subtotal exceeds the supported maximum"}
		}
		subtotal += Money(it.Quantity) * it.UnitPrice
	}
	return subtotal, nil
}

// Compute calculates order totals. It has no side effects and either returns a complete
// breakdown or an error, never a partial result.
func Compute(in Input, s Settings) (Totals, error) {
	if err := s.Validate(); err != nil {
		return Totals{}, err
	}
	subtotal, err := Subtotal(in.Items)
	if err != nil {
		return Totals{}, err
	}
	tier, ok := s.Tier(in.ShippingMethod)
	if !ok {
		return Totals{}, fmt.Errorf("%w: %q", ErrUnknownShippingMethod, in.ShippingMethod)
	}
	shipping := tier.Rate
	if subtotal >= tier.FreeShippingThreshold {
		shipping = 0
	}

	discount := in.Discount
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	taxable := subtotal
	if s.TaxBase == TaxBaseNet {
		taxable = subtotal - discount
	}
	tax := ApplyBps(taxable, s.TaxRateBps)

	var cod Money
	if strings.EqualFold(strings.TrimSpace(in.PaymentMethod), PaymentCOD) {
		cod = s.CODSurcharge
	}

	total := subtotal + shipping + tax + cod - discount
	if total < 0 {
		total = 0
	}
	return Totals{
		Subtotal:       subtotal,
		ShippingCost:   shipping,
		TaxAmount:      tax,
		DiscountAmount: discount,
		CODSurcharge:   cod,
		GrandTotal:     total,
	}, nil
}
