package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/pricing"
	"github.com/noah-isme/storefront-engine/internal/promocode"
)

// Amounts on the wire are in major units. Requests accept numbers or numeric strings.

type PromocodeProduct struct {
	ProductID string `json:"productId" validate:"required"`
	Category  string `json:"category,omitempty"`
}

type ValidateRequest struct {
	Code       string             `json:"code" validate:"required,max=64"`
	OrderValue decimal.Decimal    `json:"orderValue"`
	Products   []PromocodeProduct `json:"products" validate:"dive"`
	Categories []string           `json:"categories,omitempty"`
	UserID     string             `json:"userId,omitempty"`
}

type PromocodeInfo struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type ValidateResponse struct {
	Valid         bool           `json:"valid"`
	Discount      *float64       `json:"discount,omitempty"`
	Promocode     *PromocodeInfo `json:"promocode,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Message       string         `json:"message,omitempty"`
	AmountNeeded  *float64       `json:"amountNeeded,omitempty"`
	MinOrderValue *float64       `json:"minOrderValue,omitempty"`
}

type TotalsItem struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"max=100000"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category,omitempty"`
}

type TotalsRequest struct {
	Items          []TotalsItem `json:"items" validate:"max=1000,dive"`
	ShippingMethod string       `json:"shippingMethod"`
	PaymentMethod  string       `json:"paymentMethod,omitempty"`
	Promocode      string       `json:"promocode,omitempty"`
}

type ShippingLine struct {
	Method string  `json:"method"`
	Cost   float64 `json:"cost"`
}

type TaxLine struct {
	Amount      float64 `json:"amount"`
	Base        string  `json:"base"`
	RatePercent float64 `json:"ratePercent"`
}

type DiscountLine struct {
	Amount float64 `json:"amount"`
	Code   string  `json:"code,omitempty"`
}

type TotalsResponse struct {
	Subtotal     float64           `json:"subtotal"`
	Shipping     ShippingLine      `json:"shipping"`
	Tax          TaxLine           `json:"tax"`
	Discount     DiscountLine      `json:"discount"`
	CODSurcharge float64           `json:"codSurcharge"`
	Total        float64           `json:"total"`
	Promocode    *ValidateResponse `json:"promocode,omitempty"`
}

type PlaceOrderBody struct {
	ShippingMethod string `json:"shippingMethod"`
	PaymentMethod  string `json:"paymentMethod" validate:"required,max=32"`
	Promocode      string `json:"promocode,omitempty"`
}

type OrderResponse struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Items     []cart.ItemPayload `json:"items"`
	Totals    TotalsResponse     `json:"totals"`
	CreatedAt time.Time          `json:"createdAt"`
}

func (r ValidateRequest) toDomain(userID string) promocode.Request {
	items := make([]promocode.Item, 0, len(r.Products))
	for _, p := range r.Products {
		items = append(items, promocode.Item{ProductID: p.ProductID, Category: p.Category})
	}
	if userID == "" {
		userID = r.UserID
	}
	return promocode.Request{
		Code:       r.Code,
		Subtotal:   pricing.FromMajor(r.OrderValue),
		Items:      items,
		Categories: r.Categories,
		UserID:     userID,
	}
}

func (r TotalsRequest) lines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, pricing.Line{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: pricing.FromMajor(it.Price),
			Category:  it.Category,
		})
	}
	return lines
}

func majorPtr(m pricing.Money) *float64 {
	v := pricing.ToMajor(m)
	return &v
}

// NewValidateResponse renders a validation result.
func NewValidateResponse(res promocode.Result) ValidateResponse {
	if !res.Valid {
		out := ValidateResponse{Reason: string(res.Reason), Message: res.Message}
		if res.Reason == promocode.ReasonBelowMinimum {
			out.AmountNeeded = majorPtr(res.AmountNeeded)
			out.MinOrderValue = majorPtr(res.MinOrderValue)
		}
		return out
	}
	out := ValidateResponse{Valid: true, Discount: majorPtr(res.Discount)}
	if p := res.Promocode; p != nil {
		out.Promocode = &PromocodeInfo{Code: p.Code, Type: string(p.Discount.Kind()), Description: p.Description}
	}
	return out
}

// NewTotalsResponse renders a quote.
func NewTotalsResponse(q Quote) TotalsResponse {
	t := q.Totals
	out := TotalsResponse{
		Subtotal:     pricing.ToMajor(t.Subtotal),
		Shipping:     ShippingLine{Method: q.ShippingMethod, Cost: pricing.ToMajor(t.ShippingCost)},
		Tax:          TaxLine{Amount: pricing.ToMajor(t.TaxAmount), Base: string(q.TaxBase), RatePercent: pricing.BpsToPercent(q.TaxRateBps).InexactFloat64()},
		Discount:     DiscountLine{Amount: pricing.ToMajor(t.DiscountAmount)},
		CODSurcharge: pricing.ToMajor(t.CODSurcharge),
		Total:        pricing.ToMajor(t.GrandTotal),
	}
	if q.Promocode != nil {
		v := NewValidateResponse(*q.Promocode)
		out.Promocode = &v
		if v.Promocode != nil {
			out.Discount.Code = v.Promocode.Code
		}
	}
	return out
}

func newOrderResponse(o Order) OrderResponse {
	payload := cart.Cart{Items: o.Items}.Payload()
	totals := NewTotalsResponse(Quote{Totals: o.Totals, ShippingMethod: o.ShippingMethod, TaxBase: o.TaxBase, TaxRateBps: o.TaxRateBps})
	totals.Discount.Code = o.Promocode
	return OrderResponse{ID: o.ID, Status: o.Status, Items: payload.Items, Totals: totals, CreatedAt: o.CreatedAt}
}
