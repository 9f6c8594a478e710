package promocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-engine/internal/db"
)

var (
	// ErrExhausted is returned by Redeem when the global usage limit was reached concurrently.
	ErrExhausted = errors.New("promocode usage limit reached")
	// ErrUserLimitReached is returned by Redeem when the shopper already used the code as
	// often as usage_limit_per_user allows.
	ErrUserLimitReached = errors.New("promocode per-user limit reached")
)

// PGRepository stores promocodes and their redemptions in Postgres.
type PGRepository struct {
	DB db.DBTX
}

// WithTx returns a repository bound to tx.
func (r *PGRepository) WithTx(tx pgx.Tx) *PGRepository {
	return &PGRepository{DB: tx}
}

const lookupSQL = `
SELECT id::text, code, description, discount_type, discount_value::text, max_discount::text,
       min_order_value, product_ids, categories, usage_limit_per_user, global_usage_limit,
       used_count, starts_at, expires_at, active
FROM promocodes
WHERE code = $1`

// Lookup implements Repository.
func (r *PGRepository) Lookup(ctx context.Context, code string) (Promocode, error) {
	var (
		p           Promocode
		kind        string
		value       string
		maxDiscount *string
		startsAt    *time.Time
		expiresAt   *time.Time
	)
	err := r.DB.QueryRow(ctx, lookupSQL, Canonicalize(code)).Scan(
		&p.ID, &p.Code, &p.Description, &kind, &value, &maxDiscount,
		&p.MinOrderValue, &p.Scope.ProductIDs, &p.Scope.Categories, &p.UsageLimitPerUser, &p.GlobalUsageLimit,
		&p.UsedCount, &startsAt, &expiresAt, &p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promocode{}, ErrNotFound
		}
		return Promocode{}, err
	}
	p.StartsAt, p.ExpiresAt = startsAt, expiresAt

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return Promocode{}, fmt.Errorf("%w: %v", ErrInvalidDiscount, err)
	}
	var capAmount *decimal.Decimal
	if maxDiscount != nil {
		c, err := decimal.NewFromString(*maxDiscount)
		if err != nil {
			return Promocode{}, fmt.Errorf("%w: %v", ErrInvalidDiscount, err)
		}
		capAmount = &c
	}
	if p.Discount, err = ParseDiscount(kind, amount, capAmount); err != nil {
		return Promocode{}, err
	}
	return p, nil
}

const countRedemptionsSQL = `SELECT count(*) FROM promocode_redemptions WHERE promocode_id = $1 AND user_id = $2`

// CountRedemptions implements UsageCounter.
func (r *PGRepository) CountRedemptions(ctx context.Context, promocodeID, userID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, countRedemptionsSQL, promocodeID, userID).Scan(&n)
	return n, err
}

// Redemption records that an order used a promocode.
type Redemption struct {
	PromocodeID string
	OrderID     string
	UserID      string
	Amount      int64
}

const (
	lockPromocodeSQL = `
SELECT usage_limit_per_user, global_usage_limit, used_count
FROM promocodes
WHERE id = $1
FOR UPDATE`
	orderRedeemedSQL    = `SELECT EXISTS (SELECT 1 FROM promocode_redemptions WHERE promocode_id = $1 AND order_id = $2)`
	insertRedemptionSQL = `
INSERT INTO promocode_redemptions (promocode_id, order_id, user_id, amount)
VALUES ($1, $2, $3, $4)`
	bumpUsageSQL = `UPDATE promocodes SET used_count = used_count + 1 WHERE id = $1`
)

// Redeem records a redemption and bumps the usage counter. Repeating it for the same order
// is a no-op. It must run in the transaction that creates the order: the promocode row
// stays locked until that transaction ends, so the per-user and global limits are
// re-checked by one order at a time.
func (r *PGRepository) Redeem(ctx context.Context, red Redemption) error {
	var perUser, global, used int
	err := r.DB.QueryRow(ctx, lockPromocodeSQL, red.PromocodeID).Scan(&perUser, &global, &used)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock promocode: %w", err)
	}

	var done bool
	if err := r.DB.QueryRow(ctx, orderRedeemedSQL, red.PromocodeID, red.OrderID).Scan(&done); err != nil {
		return fmt.Errorf("check redemption: %w", err)
	}
	if done {
		return nil
	}

	if perUser > 0 && red.UserID != "" {
		n, err := r.CountRedemptions(ctx, red.PromocodeID, red.UserID)
		if err != nil {
			return fmt.Errorf("count redemptions: %w", err)
		}
		if n >= perUser {
			return ErrUserLimitReached
		}
	}
	if global > 0 && used >= global {
		return ErrExhausted
	}

	if _, err := r.DB.Exec(ctx, insertRedemptionSQL, red.PromocodeID, red.OrderID, red.UserID, red.Amount); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	if _, err := r.DB.Exec(ctx, bumpUsageSQL, red.PromocodeID); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}
