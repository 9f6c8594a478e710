package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func oneLine(price Money) []Line {
	return []Line{{ProductID: "p-1", Quantity: 1, UnitPrice: price, Category: "tea"}}
}

func TestComputeScenarios(t *testing.T) {
	settings := DefaultSettings()
	cases := []struct {
		name string
		in   Input
		want Totals
	}{
		{
			name: "below free shipping threshold",
			in:   Input{Items: oneLine(40000), ShippingMethod: "standard"},
			want: Totals{Subtotal: 40000, ShippingCost: 5000, TaxAmount: 7200, GrandTotal: 52200},
		},
		{
			name: "above free shipping threshold",
			in:   Input{Items: oneLine(60000), ShippingMethod: "standard"},
			want: Totals{Subtotal: 60000, TaxAmount: 10800, GrandTotal: 70800},
		},
		{
			name: "percentage promocode",
			in:   Input{Items: oneLine(40000), ShippingMethod: "standard", Discount: 4000},
			want: Totals{Subtotal: 40000, ShippingCost: 5000, TaxAmount: 7200, DiscountAmount: 4000, GrandTotal: 48200},
		},
		{
			name: "cash on delivery",
			in:   Input{Items: oneLine(30000), ShippingMethod: "standard", PaymentMethod: "cod"},
			want: Totals{Subtotal: 30000, ShippingCost: 5000, TaxAmount: 5400, CODSurcharge: 2500, GrandTotal: 42900},
		},
		{
			name: "unknown method falls back to standard",
			in:   Input{Items: oneLine(40000), ShippingMethod: "teleport"},
			want: Totals{Subtotal: 40000, ShippingCost: 5000, TaxAmount: 7200, GrandTotal: 52200},
		},
		{
			name: "multiple lines accumulate",
			in: Input{Items: []Line{
				{ProductID: "p-1", Quantity: 2, UnitPrice: 12550},
				{ProductID: "p-2", Quantity: 3, UnitPrice: 999},
			}, ShippingMethod: "standard"},
			want: Totals{Subtotal: 28097, ShippingCost: 5000, TaxAmount: 5057, GrandTotal: 38154},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(tc.in, settings)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestComputeFreeShippingBoundary(t *testing.T) {
	settings := DefaultSettings()

	at, err := Compute(Input{Items: oneLine(50000)}, settings)
	require.NoError(t, err)
	require.Zero(t, at.ShippingCost)

	below, err := Compute(Input{Items: oneLine(49999)}, settings)
	require.NoError(t, err)
	require.Equal(t, Money(5000), below.ShippingCost)
}

func TestComputeCODGating(t *testing.T) {
	settings := DefaultSettings()
	for _, method := range []string{"", "card", "upi", "cash", "codx"} {
		got, err := Compute(Input{Items: oneLine(30000), PaymentMethod: method}, settings)
		require.NoError(t, err)
		require.Zero(t, got.CODSurcharge, method)
	}
	got, err := Compute(Input{Items: oneLine(30000), PaymentMethod: " COD "}, settings)
	require.NoError(t, err)
	require.Equal(t, Money(2500), got.CODSurcharge)
}

func TestComputeIsDeterministic(t *testing.T) {
	in := Input{Items: oneLine(33333), ShippingMethod: "standard", Discount: 1234, PaymentMethod: "cod"}
	first, err := Compute(in, DefaultSettings())
	require.NoError(t, err)
	second, err := Compute(in, DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestComputeProperties(t *testing.T) {
	settings := DefaultSettings()
	for _, price := range []Money{0, 1, 999, 49999, 50000, 123456} {
		for _, discount := range []Money{-500, 0, 1, 25000, 10_000_000} {
			for _, pay := range []string{"card", "cod"} {
				got, err := Compute(Input{Items: oneLine(price), Discount: discount, PaymentMethod: pay}, settings)
				require.NoError(t, err)
				require.GreaterOrEqual(t, got.DiscountAmount, Money(0))
				require.LessOrEqual(t, got.DiscountAmount, got.Subtotal)
				require.GreaterOrEqual(t, got.GrandTotal, Money(0))
				want := got.Subtotal + got.ShippingCost + got.TaxAmount + got.CODSurcharge - got.DiscountAmount
				if want < 0 {
					want = 0
				}
				require.Equal(t, want, got.GrandTotal)
			}
		}
	}
}

func TestComputeNetTaxBase(t *testing.T) {
	settings := DefaultSettings()
	settings.TaxBase = TaxBaseNet

	got, err := Compute(Input{Items: oneLine(40000), Discount: 4000}, settings)
	require.NoError(t, err)
	require.Equal(t, Money(6480), got.TaxAmount)
	require.Equal(t, Money(40000+5000+6480-4000), got.GrandTotal)
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	settings := DefaultSettings()
	cases := map[string][]Line{
		"empty":          nil,
		"zero quantity":  {{ProductID: "p", Quantity: 0, UnitPrice: 100}},
		"negative qty":   {{ProductID: "p", Quantity: -2, UnitPrice: 100}},
		"negative price": {{ProductID: "p", Quantity: 1, UnitPrice: -1}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(Input{Items: items}, settings)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestComputeWithoutStandardTier(t *testing.T) {
	settings := Settings{TaxRateBps: 1800, TaxBase: TaxBaseGross, ShippingTiers: map[string]Tier{"express": {Rate: 9000}}}
	_, err := Compute(Input{Items: oneLine(100), ShippingMethod: "pigeon"}, settings)
	require.True(t, errors.Is(err, ErrUnknownShippingMethod))

	got, err := Compute(Input{Items: oneLine(100), ShippingMethod: "Express"}, settings)
	require.NoError(t, err)
	require.Equal(t, Money(9000), got.ShippingCost)
}

func TestComputeRejectsNegativeSettings(t *testing.T) {
	settings := DefaultSettings()
	settings.CODSurcharge = -1
	_, err := Compute(Input{Items: oneLine(100)}, settings)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "codSurcharge", verr.Field)
}

func TestComputeRejectsAmountsBeyondMoneyRange(t *testing.T) {
	huge := FromMajor(decimal.RequireFromString("90000000000000"))
	cases := []struct {
		name  string
		items []Line
		field string
	}{
		{
			name:  "price beyond maximum",
			items: []Line{{ProductID: "p-1", Quantity: 1100, UnitPrice: huge}},
			field: "items[0].price",
		},
		{
			name:  "line total beyond maximum",
			items: []Line{{ProductID: "p-1", Quantity: 1100, UnitPrice: MaxAmount / 1000}},
			field: "items",
		},
		{
			name: "running sum beyond maximum",
			items: []Line{
				{ProductID: "p-1", Quantity: 1, UnitPrice: MaxAmount},
				{ProductID: "p-2", Quantity: 1, UnitPrice: 1},
			},
			field: "items",
		},
		{
			name:  "quantity beyond maximum",
			items: []Line{{ProductID: "p-1", Quantity: MaxQuantity + 1, UnitPrice: 100}},
			field: "items[0].quantity",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := Compute(Input{Items: tc.items, Discount: 10000}, DefaultSettings())
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.Equal(t, Totals{}, totals)
		})
	}
}

func TestComputeAtMaximumKeepsDiscountWithinSubtotal(t *testing.T) {
	totals, err := Compute(Input{Items: []Line{{ProductID: "p-1", Quantity: 1, UnitPrice: MaxAmount}}, Discount: math.MaxInt64}, DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, MaxAmount, totals.Subtotal)
	require.Equal(t, MaxAmount, totals.DiscountAmount)
	require.Equal(t, ApplyBps(MaxAmount, 1800), totals.TaxAmount)
	require.Positive(t, totals.GrandTotal)
}

func TestSettingsRejectOutOfRangeValues(t *testing.T) {
	s := DefaultSettings()
	s.TaxRateBps = MaxBps + 1
	var verr *ValidationError
	require.ErrorAs(t, s.Validate(), &verr)
	require.Equal(t, "taxRatePercent", verr.Field)

	s = DefaultSettings()
	s.ShippingTiers["express"] = Tier{Rate: MaxAmount + 1}
	require.ErrorAs(t, s.Validate(), &verr)
	require.Equal(t, "shippingTiers.express", verr.Field)
}

func TestMoneyArithmeticSaturates(t *testing.T) {
	require.Equal(t, Money(math.MaxInt64), FromMajor(decimal.RequireFromString("1e30")))
	require.Equal(t, Money(math.MinInt64), FromMajor(decimal.RequireFromString("-1e30")))
	require.Equal(t, Money(4611686018427387904), ApplyBps(math.MaxInt64, 5000))
	require.Equal(t, Money(math.MaxInt64), MulQuantity(math.MaxInt64/2, 3))
	require.Equal(t, Money(600), MulQuantity(200, 3))
}

func TestMoneyConversions(t *testing.T) {
	require.Equal(t, Money(49999), FromMajor(decimal.RequireFromString("499.99")))
	require.Equal(t, Money(1001), FromMajor(decimal.RequireFromString("10.005")))
	require.Equal(t, 499.99, ToMajor(49999))
	require.Equal(t, "120.00", FormatMajor(12000))
	require.Equal(t, int64(1250), PercentToBps(decimal.RequireFromString("12.5")))
	require.Equal(t, Money(3), ApplyBps(25, 1000))
	require.Equal(t, Money(2), ApplyBps(24, 1000))
}
