package promocode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type tableRow struct {
	perUser, global, used int
}

// tableDB answers the redemption statements from in-memory tables.
type tableDB struct {
	promos      map[string]*tableRow
	redemptions []Redemption
	locks       []string
}

type scanRow struct {
	vals []any
	err  error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = r.vals[i].(int)
		case *bool:
			*p = r.vals[i].(bool)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

func (db *tableDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	id := args[0].(string)
	switch sql {
	case lockPromocodeSQL:
		db.locks = append(db.locks, id)
		p, ok := db.promos[id]
		if !ok {
			return scanRow{err: pgx.ErrNoRows}
		}
		return scanRow{vals: []any{p.perUser, p.global, p.used}}
	case orderRedeemedSQL:
		for _, r := range db.redemptions {
			if r.PromocodeID == id && r.OrderID == args[1].(string) {
				return scanRow{vals: []any{true}}
			}
		}
		return scanRow{vals: []any{false}}
	case countRedemptionsSQL:
		n := 0
		for _, r := range db.redemptions {
			if r.PromocodeID == id && r.UserID == args[1].(string) {
				n++
			}
		}
		return scanRow{vals: []any{n}}
	}
	return scanRow{err: fmt.Errorf("unexpected query %q", sql)}
}

func (db *tableDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch sql {
	case insertRedemptionSQL:
		db.redemptions = append(db.redemptions, Redemption{
			PromocodeID: args[0].(string),
			OrderID:     args[1].(string),
			UserID:      args[2].(string),
			Amount:      args[3].(int64),
		})
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case bumpUsageSQL:
		db.promos[args[0].(string)].used++
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec %q", sql)
}

func (db *tableDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func TestRedeemEnforcesPerUserLimit(t *testing.T) {
	ctx := context.Background()
	db := &tableDB{promos: map[string]*tableRow{"promo-1": {perUser: 1}}}
	repo := &PGRepository{DB: db}

	require.NoError(t, repo.Redeem(ctx, Redemption{PromocodeID: "promo-1", OrderID: "order-a", UserID: "user-1", Amount: 100}))
	// a second order validated before the first committed
	err := repo.Redeem(ctx, Redemption{PromocodeID: "promo-1", OrderID: "order-b", UserID: "user-1", Amount: 100})
	require.ErrorIs(t, err, ErrUserLimitReached)
	require.Len(t, db.redemptions, 1)
	require.Equal(t, 1, db.promos["promo-1"].used)

	require.NoError(t, repo.Redeem(ctx, Redemption{PromocodeID: "promo-1", OrderID: "order-c", UserID: "user-2", Amount: 100}))
	require.Equal(t, []string{"promo-1", "promo-1", "promo-1"}, db.locks)
}

func TestRedeemIsIdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	db := &tableDB{promos: map[string]*tableRow{"promo-1": {perUser: 1, global: 5}}}
	repo := &PGRepository{DB: db}
	red := Redemption{PromocodeID: "promo-1", OrderID: "order-a", UserID: "user-1", Amount: 100}

	require.NoError(t, repo.Redeem(ctx, red))
	require.NoError(t, repo.Redeem(ctx, red))
	require.Len(t, db.redemptions, 1)
	require.Equal(t, 1, db.promos["promo-1"].used)
}

func TestRedeemEnforcesGlobalLimit(t *testing.T) {
	ctx := context.Background()
	db := &tableDB{promos: map[string]*tableRow{"promo-1": {global: 2, used: 2}}}
	err := (&PGRepository{DB: db}).Redeem(ctx, Redemption{PromocodeID: "promo-1", OrderID: "order-a", UserID: "user-1"})
	require.ErrorIs(t, err, ErrExhausted)
	require.Empty(t, db.redemptions)

	err = (&PGRepository{DB: db}).Redeem(ctx, Redemption{PromocodeID: "gone", OrderID: "order-a"})
	require.ErrorIs(t, err, ErrNotFound)
}
