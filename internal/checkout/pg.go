package checkout

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/storefront-engine/internal/db"
	"github.com/noah-isme/storefront-engine/internal/promocode"
)

var (
	// ErrPromocodeExhausted is returned when the last use of a promocode was taken by a
	// concurrent order.
	ErrPromocodeExhausted = promocode.ErrExhausted
	// ErrPromocodeUserLimit is returned when a concurrent order of the same shopper used
	// up their allowance of the promocode.
	ErrPromocodeUserLimit = promocode.ErrUserLimitReached
)

// PGOrders stores orders in Postgres.
type PGOrders struct {
	Pool db.TxBeginner
}

const insertOrderSQL = `
INSERT INTO orders (id, user_id, status, shipping_method, payment_method, promocode,
                    subtotal, shipping_cost, tax_amount, discount_amount, cod_surcharge,
                    grand_total, tax_base, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14)`

// Place implements OrderStore.
func (p *PGOrders) Place(ctx context.Context, o Order) error {
	return db.InTx(ctx, p.Pool, func(tx pgx.Tx) error {
		t := o.Totals
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.Status, o.ShippingMethod, o.PaymentMethod, o.Promocode,
			t.Subtotal, t.ShippingCost, t.TaxAmount, t.DiscountAmount, t.CODSurcharge,
			t.GrandTotal, string(o.TaxBase), o.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`INSERT INTO order_items (order_id, product_id, quantity, unit_price, category) VALUES ($1, $2, $3, $4, $5)`,
				o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.Category)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		if o.PromocodeID != "" {
			promos := &promocode.PGRepository{DB: tx}
			err := promos.Redeem(ctx, promocode.Redemption{
				PromocodeID: o.PromocodeID,
				OrderID:     o.ID,
				UserID:      o.UserID,
				Amount:      t.DiscountAmount,
			})
			if err != nil {
				return fmt.Errorf("redeem promocode: %w", err)
			}
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`,
			o.UserID,
		); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
}
