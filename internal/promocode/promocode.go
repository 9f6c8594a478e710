package promocode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-engine/internal/pricing"
)

// ErrInvalidDiscount is returned when a stored discount definition cannot be interpreted.
var ErrInvalidDiscount = errors.New("invalid promocode discount")

// Kind names the discount variant on the wire.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Discount is the closed set of discount variants. It is resolved once when a promocode
// is loaded and never re-interpreted afterwards.
type Discount interface {
	Kind() Kind
	// Apply returns the discount granted on subtotal, never more than subtotal.
	Apply(subtotal pricing.Money) pricing.Money
	sealed()
}

// Percentage grants Bps basis points of the subtotal, limited to Cap when Cap > 0.
type Percentage struct {
	Bps int64
	Cap pricing.Money
}

func (Percentage) Kind() Kind { return KindPercentage }
func (Percentage) sealed()    {}

// Apply implements Discount.
func (p Percentage) Apply(subtotal pricing.Money) pricing.Money {
	d := pricing.ApplyBps(subtotal, p.Bps)
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return clamp(d, subtotal)
}

// Fixed grants a flat Amount.
type Fixed struct {
	Amount pricing.Money
}

func (Fixed) Kind() Kind { return KindFixed }
func (Fixed) sealed()    {}

// Apply implements Discount.
func (f Fixed) Apply(subtotal pricing.Money) pricing.Money {
	return clamp(f.Amount, subtotal)
}

func clamp(d, subtotal pricing.Money) pricing.Money {
	if d < 0 || subtotal <= 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}

// ParseDiscount resolves a stored discount. value is a percentage for percentage codes and
// a major-unit amount for fixed ones; maxDiscount is an optional major-unit cap. Legacy
// spellings ("percent", "fixed_amount", "flat") are accepted here and nowhere else.
func ParseDiscount(kind string, value decimal.Decimal, maxDiscount *decimal.Decimal) (Discount, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvalidDiscount, value)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "percentage", "percent":
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("%w: percentage %s exceeds 100", ErrInvalidDiscount, value)
		}
		p := Percentage{Bps: pricing.PercentToBps(value)}
		if maxDiscount != nil && maxDiscount.IsPositive() {
			p.Cap = pricing.FromMajor(*maxDiscount)
		}
		return p, nil
	case "fixed", "fixed_amount", "flat":
		return Fixed{Amount: pricing.FromMajor(value)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscount, kind)
	}
}

// Scope restricts a promocode to carts containing at least one listed product or category.
type Scope struct {
	ProductIDs []string
	Categories []string
}

// Empty reports whether the code applies to any cart.
func (s Scope) Empty() bool {
	return len(s.ProductIDs) == 0 && len(s.Categories) == 0
}

// Matches reports whether the cart shares a product id or a category with the scope.
// Category comparison is case-insensitive.
func (s Scope) Matches(productIDs, categories []string) bool {
	if s.Empty() {
		return true
	}
	for _, id := range productIDs {
		for _, want := range s.ProductIDs {
			if id == want {
				return true
			}
		}
	}
	for _, c := range categories {
		for _, want := range s.Categories {
			if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

// Promocode is an issued code. Only UsedCount changes after issue, through redemptions.
// Zero limits mean unlimited.
type Promocode struct {
	ID                string
	Code              string
	Description       string
	Discount          Discount
	MinOrderValue     pricing.Money
	Scope             Scope
	UsageLimitPerUser int
	GlobalUsageLimit  int
	UsedCount         int
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	Active            bool
}

// Live reports whether the code is active and inside its validity window at now.
func (p Promocode) Live(now time.Time) bool {
	if !p.Active || p.Discount == nil {
		return false
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	return true
}

// Exhausted reports whether the global usage limit has been reached.
func (p Promocode) Exhausted() bool {
	return p.GlobalUsageLimit > 0 && p.UsedCount >= p.GlobalUsageLimit
}

// Canonicalize trims and upper-cases a code.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
