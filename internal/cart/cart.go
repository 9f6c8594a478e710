package cart

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-engine/internal/pricing"
	"github.com/noah-isme/storefront-engine/internal/promocode"
)

var (
	// ErrNotFound indicates the referenced cart line does not exist.
	ErrNotFound = errors.New("cart item not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownProduct is returned when a product is not sellable.
	ErrUnknownProduct = errors.New("unknown product")
)

// Kind distinguishes device-local carts from server-persisted ones.
type Kind string

const (
	KindAnonymous     Kind = "anonymous"
	KindAuthenticated Kind = "authenticated"
)

// LineItem is one product in a cart. UnitPrice is the price captured when the product was
// first added.
type LineItem struct {
	ProductID string        `json:"productId"`
	Quantity  int           `json:"quantity"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Category  string        `json:"category,omitempty"`
}

// Cart holds at most one line per product; repeated adds increase the quantity.
type Cart struct {
	OwnerKey     string     `json:"ownerKey"`
	Kind         Kind       `json:"kind"`
	Items        []LineItem `json:"items"`
	LastModified time.Time  `json:"lastModified"`
}

// Product is what the shopper saw when adding an item.
type Product struct {
	ID       string
	Price    pricing.Money
	Category string
}

// Subtotal sums unit price times quantity for display. It saturates instead of wrapping;
// checkout prices carts through pricing.Compute, which rejects such totals.
func (c Cart) Subtotal() pricing.Money {
	var total pricing.Money
	for _, it := range c.Items {
		line := pricing.MulQuantity(it.UnitPrice, it.Quantity)
		if total > math.MaxInt64-line {
			return math.MaxInt64
		}
		total += line
	}
	return total
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Line returns the line for productID.
func (c Cart) Line(productID string) (LineItem, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return LineItem{}, false
}

// PricingLines converts the cart into pricing engine input.
func (c Cart) PricingLines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, pricing.Line{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Category: it.Category})
	}
	return lines
}

// PromocodeItems lists what the promocode scope check needs.
func (c Cart) PromocodeItems() []promocode.Item {
	items := make([]promocode.Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, promocode.Item{ProductID: it.ProductID, Category: it.Category})
	}
	return items
}

// Normalize merges lines that share a product id, summing quantities and keeping the
// first-seen position and price. Carts saved by older clients may hold such duplicates.
func Normalize(items []LineItem) ([]LineItem, error) {
	out := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for i, it := range items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		if it.ProductID == "" {
			return nil, fmt.Errorf("items[%d]: product id is required: %w", i, ErrInvalidInput)
		}
		if it.Quantity < 1 || it.Quantity > pricing.MaxQuantity {
			return nil, fmt.Errorf("items[%d]: quantity must be between 1 and %d: %w", i, pricing.MaxQuantity, ErrInvalidInput)
		}
		if it.UnitPrice < 0 || it.UnitPrice > pricing.MaxAmount {
			return nil, fmt.Errorf("items[%d]: price out of range: %w", i, ErrInvalidInput)
		}
		if pos, ok := index[it.ProductID]; ok {
			out[pos].Quantity += it.Quantity
			if out[pos].Quantity > pricing.MaxQuantity {
				return nil, fmt.Errorf("items[%d]: quantity must be between 1 and %d: %w", i, pricing.MaxQuantity, ErrInvalidInput)
			}
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// ItemPayload is a line on the HTTP API. Money is in major units.
type ItemPayload struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Category  string  `json:"category,omitempty"`
	LineTotal float64 `json:"lineTotal"`
}

// Payload is the HTTP representation of a cart.
type Payload struct {
	OwnerKey     string        `json:"ownerKey"`
	Items        []ItemPayload `json:"items"`
	Subtotal     float64       `json:"subtotal"`
	LastModified time.Time     `json:"lastModified"`
	Skipped      []string      `json:"skipped,omitempty"`
	Replayed     bool          `json:"replayed,omitempty"`
}

// Payload renders the cart for the HTTP API.
func (c Cart) Payload() Payload {
	p := Payload{
		OwnerKey:     c.OwnerKey,
		Items:        make([]ItemPayload, 0, len(c.Items)),
		Subtotal:     pricing.ToMajor(c.Subtotal()),
		LastModified: c.LastModified,
	}
	for _, it := range c.Items {
		p.Items = append(p.Items, ItemPayload{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: pricing.ToMajor(it.UnitPrice),
			Category:  it.Category,
			LineTotal: pricing.ToMajor(pricing.MulQuantity(it.UnitPrice, it.Quantity)),
		})
	}
	return p
}

// Cart converts an HTTP payload back into an authenticated cart.
func (p Payload) Cart() Cart {
	c := Cart{OwnerKey: p.OwnerKey, Kind: KindAuthenticated, Items: make([]LineItem, 0, len(p.Items)), LastModified: p.LastModified}
	for _, it := range p.Items {
		c.Items = append(c.Items, LineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: pricing.FromMajor(decimal.NewFromFloat(it.UnitPrice)),
			Category:  it.Category,
		})
	}
	return c
}
