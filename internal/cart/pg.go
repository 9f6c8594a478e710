package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/storefront-engine/internal/db"
	"github.com/noah-isme/storefront-engine/internal/pricing"
)

// PGRepository persists carts in Postgres.
type PGRepository struct {
	DB    db.DBTX
	begin db.TxBeginner
}

// NewPGRepository returns a repository that opens its own transactions on pool.
func NewPGRepository(pool interface {
	db.DBTX
	db.TxBeginner
}) *PGRepository {
	return &PGRepository{DB: pool, begin: pool}
}

// InTx implements Repository. A repository already bound to a transaction runs fn inline.
func (r *PGRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.begin == nil {
		return fn(r)
	}
	return db.InTx(ctx, r.begin, func(tx pgx.Tx) error {
		return fn(&PGRepository{DB: tx})
	})
}

const ensureCartSQL = `
INSERT INTO carts (id, user_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at, updated_at = now()
RETURNING id::text`

func (r *PGRepository) EnsureCart(ctx context.Context, userID string, expiresAt time.Time) (string, error) {
	var id string
	err := r.DB.QueryRow(ctx, ensureCartSQL, uuid.New(), userID, expiresAt).Scan(&id)
	return id, err
}

func (r *PGRepository) Load(ctx context.Context, userID string) (Cart, error) {
	c := Cart{OwnerKey: userID, Kind: KindAuthenticated, Items: []LineItem{}}
	var cartID string
	err := r.DB.QueryRow(ctx, `SELECT id::text, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&cartID, &c.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return Cart{}, err
	}
	rows, err := r.DB.Query(ctx, `
SELECT product_id, quantity, unit_price, category
FROM cart_items
WHERE cart_id = $1
ORDER BY position`, cartID)
	if err != nil {
		return Cart{}, err
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[LineItem])
	if err != nil {
		return Cart{}, err
	}
	c.Items = items
	return c, nil
}

const addQuantitySQL = `
INSERT INTO cart_items (cart_id, product_id, quantity, unit_price, category)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

func (r *PGRepository) AddQuantity(ctx context.Context, cartID string, item LineItem) error {
	_, err := r.DB.Exec(ctx, addQuantitySQL, cartID, item.ProductID, item.Quantity, int64(item.UnitPrice), item.Category)
	return err
}

func (r *PGRepository) SetQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	tag, err := r.DB.Exec(ctx, `UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND product_id = $2`, cartID, productID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) RemoveItem(ctx context.Context, cartID, productID string) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ClearItems(ctx context.Context, cartID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return err
}

const recordSyncTokenSQL = `
INSERT INTO cart_sync_tokens (cart_id, token) VALUES ($1, $2)
ON CONFLICT (cart_id, token) DO UPDATE SET created_at = now()
WHERE cart_sync_tokens.created_at < $3`

func (r *PGRepository) RecordSyncToken(ctx context.Context, cartID, token string, since time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, recordSyncTokenSQL, cartID, token, since)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM carts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) DeleteSyncTokensBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM cart_sync_tokens WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PGCatalog reads sellable products.
type PGCatalog struct {
	DB db.DBTX
}

// Products implements Catalog.
func (c *PGCatalog) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.DB.Query(ctx, `SELECT id, price, category FROM products WHERE active AND id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p     Product
			price int64
		)
		if err := rows.Scan(&p.ID, &price, &p.Category); err != nil {
			return nil, err
		}
		p.Price = pricing.Money(price)
		out[p.ID] = p
	}
	return out, rows.Err()
}
