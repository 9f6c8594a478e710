package promocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-engine/internal/pricing"
)

type stubRepo struct {
	codes  map[string]Promocode
	err    error
	usage  map[string]int
	counts int
}

func (s *stubRepo) Lookup(_ context.Context, code string) (Promocode, error) {
	if s.err != nil {
		return Promocode{}, s.err
	}
	p, ok := s.codes[code]
	if !ok {
		return Promocode{}, ErrNotFound
	}
	return p, nil
}

func (s *stubRepo) CountRedemptions(_ context.Context, promocodeID, userID string) (int, error) {
	s.counts++
	return s.usage[promocodeID+"/"+userID], nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newValidator(codes ...Promocode) (*Validator, *stubRepo) {
	repo := &stubRepo{codes: map[string]Promocode{}, usage: map[string]int{}}
	for _, c := range codes {
		repo.codes[c.Code] = c
	}
	return &Validator{Repo: repo, Usage: repo, Now: func() time.Time { return fixedNow }, Logger: zerolog.Nop()}, repo
}

func TestValidatePercentageDiscount(t *testing.T) {
	v, _ := newValidator(Promocode{ID: "p1", Code: "SAVE10", Discount: Percentage{Bps: 1000}, Active: true})

	res, err := v.Validate(context.Background(), Request{Code: "  save10 ", Subtotal: 40000})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, pricing.Money(4000), res.Discount)
	require.Equal(t, "SAVE10", res.Promocode.Code)
}

func TestValidateBelowMinimum(t *testing.T) {
	v, _ := newValidator(Promocode{ID: "p1", Code: "BIG", Discount: Fixed{Amount: 10000}, MinOrderValue: 100000, Active: true})

	res, err := v.Validate(context.Background(), Request{Code: "BIG", Subtotal: 40000})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, ReasonBelowMinimum, res.Reason)
	require.Equal(t, pricing.Money(60000), res.AmountNeeded)
	require.Equal(t, pricing.Money(100000), res.MinOrderValue)
	require.Equal(t, "add ₹600.00 more to use this code", res.Message)
}

func TestValidateExactlyAtMinimumPasses(t *testing.T) {
	v, _ := newValidator(Promocode{ID: "p1", Code: "MIN", Discount: Fixed{Amount: 500}, MinOrderValue: 40000, Active: true})
	res, err := v.Validate(context.Background(), Request{Code: "MIN", Subtotal: 40000})
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestValidateInvalidOrExpired(t *testing.T) {
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)
	v, _ := newValidator(
		Promocode{ID: "1", Code: "OFF", Discount: Fixed{Amount: 100}, Active: false},
		Promocode{ID: "2", Code: "OLD", Discount: Fixed{Amount: 100}, Active: true, ExpiresAt: &past},
		Promocode{ID: "3", Code: "SOON", Discount: Fixed{Amount: 100}, Active: true, StartsAt: &future},
	)
	for _, code := range []string{"OFF", "OLD", "SOON", "NOPE"} {
		res, err := v.Validate(context.Background(), Request{Code: code, Subtotal: 1000})
		require.NoError(t, err, code)
		require.False(t, res.Valid, code)
		require.Equal(t, ReasonInvalidOrExpired, res.Reason, code)
	}
}

func TestValidateUsageLimits(t *testing.T) {
	v, repo := newValidator(
		Promocode{ID: "once", Code: "ONCE", Discount: Fixed{Amount: 100}, UsageLimitPerUser: 1, Active: true},
		Promocode{ID: "gone", Code: "GONE", Discount: Fixed{Amount: 100}, GlobalUsageLimit: 5, UsedCount: 5, Active: true},
	)
	repo.usage["once/user-1"] = 1

	res, err := v.Validate(context.Background(), Request{Code: "ONCE", Subtotal: 1000, UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, ReasonUsageLimitExceeded, res.Reason)

	res, err = v.Validate(context.Background(), Request{Code: "ONCE", Subtotal: 1000, UserID: "user-2"})
	require.NoError(t, err)
	require.True(t, res.Valid)

	calls := repo.counts
	res, err = v.Validate(context.Background(), Request{Code: "ONCE", Subtotal: 1000})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, calls, repo.counts, "anonymous callers skip the per-user lookup")

	res, err = v.Validate(context.Background(), Request{Code: "GONE", Subtotal: 1000})
	require.NoError(t, err)
	require.Equal(t, ReasonUsageLimitExceeded, res.Reason)
}

func TestValidateScope(t *testing.T) {
	v, _ := newValidator(Promocode{
		ID: "s", Code: "TEA", Discount: Percentage{Bps: 500}, Active: true,
		Scope: Scope{ProductIDs: []string{"p-9"}, Categories: []string{"Tea"}},
	})

	res, err := v.Validate(context.Background(), Request{Code: "TEA", Subtotal: 1000, Items: []Item{{ProductID: "p-1", Category: "coffee"}}})
	require.NoError(t, err)
	require.Equal(t, ReasonNotApplicable, res.Reason)

	res, err = v.Validate(context.Background(), Request{Code: "TEA", Subtotal: 1000, Items: []Item{{ProductID: "p-1", Category: "tea"}}})
	require.NoError(t, err)
	require.True(t, res.Valid)

	res, err = v.Validate(context.Background(), Request{Code: "TEA", Subtotal: 1000, Categories: []string{"TEA"}})
	require.NoError(t, err)
	require.True(t, res.Valid)

	res, err = v.Validate(context.Background(), Request{Code: "TEA", Subtotal: 1000, Items: []Item{{ProductID: "p-9"}}})
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestValidateGateOrder(t *testing.T) {
	v, repo := newValidator(Promocode{
		ID: "g", Code: "ALL", Discount: Fixed{Amount: 100}, Active: true, MinOrderValue: 5000,
		UsageLimitPerUser: 1, Scope: Scope{Categories: []string{"books"}},
	})
	repo.usage["g/u"] = 3

	res, err := v.Validate(context.Background(), Request{Code: "ALL", Subtotal: 100, UserID: "u"})
	require.NoError(t, err)
	require.Equal(t, ReasonBelowMinimum, res.Reason)

	res, err = v.Validate(context.Background(), Request{Code: "ALL", Subtotal: 9000, UserID: "u"})
	require.NoError(t, err)
	require.Equal(t, ReasonUsageLimitExceeded, res.Reason)
}

func TestValidateErrors(t *testing.T) {
	v, repo := newValidator()
	_, err := v.Validate(context.Background(), Request{Code: "  "})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = v.Validate(context.Background(), Request{Code: "X", Subtotal: -1})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = v.Validate(context.Background(), Request{Code: "X", Subtotal: pricing.MaxAmount + 1})
	require.ErrorIs(t, err, ErrInvalidRequest)

	repo.err = errors.New("db down")
	_, err = v.Validate(context.Background(), Request{Code: "X", Subtotal: 1})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestDiscountApply(t *testing.T) {
	require.Equal(t, pricing.Money(4000), Percentage{Bps: 1000}.Apply(40000))
	require.Equal(t, pricing.Money(2500), Percentage{Bps: 1000, Cap: 2500}.Apply(40000))
	require.Equal(t, pricing.Money(40000), Percentage{Bps: 10000}.Apply(40000))
	require.Equal(t, pricing.Money(300), Fixed{Amount: 1000}.Apply(300))
	require.Equal(t, pricing.Money(1000), Fixed{Amount: 1000}.Apply(5000))
	require.Zero(t, Fixed{Amount: 1000}.Apply(0))
}

func TestParseDiscount(t *testing.T) {
	maxOff := decimal.RequireFromString("150")
	d, err := ParseDiscount("percent", decimal.RequireFromString("12.5"), &maxOff)
	require.NoError(t, err)
	require.Equal(t, Percentage{Bps: 1250, Cap: 15000}, d)
	require.Equal(t, KindPercentage, d.Kind())

	d, err = ParseDiscount("fixed_amount", decimal.RequireFromString("99.99"), nil)
	require.NoError(t, err)
	require.Equal(t, Fixed{Amount: 9999}, d)

	_, err = ParseDiscount("bogo", decimal.NewFromInt(1), nil)
	require.ErrorIs(t, err, ErrInvalidDiscount)
	_, err = ParseDiscount("percentage", decimal.NewFromInt(101), nil)
	require.ErrorIs(t, err, ErrInvalidDiscount)
	_, err = ParseDiscount("fixed", decimal.NewFromInt(-1), nil)
	require.ErrorIs(t, err, ErrInvalidDiscount)
}
