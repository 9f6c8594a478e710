package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServiceMutations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemRepo())

	c, err := svc.Add(ctx, "u", "P1", 1)
	require.NoError(t, err)
	c, err = svc.Add(ctx, "u", "P1", 2)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, 3, c.Items[0].Quantity)
	require.Equal(t, "u", c.OwnerKey)
	require.Equal(t, KindAuthenticated, c.Kind)

	_, err = svc.Add(ctx, "u", "NOPE", 1)
	require.ErrorIs(t, err, ErrUnknownProduct)
	_, err = svc.Add(ctx, "u", "P1", 0)
	require.ErrorIs(t, err, ErrInvalidInput)

	c, err = svc.UpdateQuantity(ctx, "u", "P1", 5)
	require.NoError(t, err)
	require.Equal(t, 5, c.Items[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, "u", "P2", 1)
	require.ErrorIs(t, err, ErrNotFound)

	c, err = svc.UpdateQuantity(ctx, "u", "P1", 0)
	require.NoError(t, err)
	require.True(t, c.Empty())

	_, err = svc.Add(ctx, "u", "P2", 1)
	require.NoError(t, err)
	c, err = svc.Clear(ctx, "u")
	require.NoError(t, err)
	require.True(t, c.Empty())
}

func TestServiceGetWithoutCart(t *testing.T) {
	c, err := newTestService(newMemRepo()).Get(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, c.Items)
	require.True(t, c.Empty())
}

func TestServicePurges(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	repo.now = func() time.Time { return now }
	svc := newTestService(repo)
	svc.Now = func() time.Time { return now }
	svc.SyncTokenTTL = time.Hour

	_, err := svc.Sync(ctx, "u", SyncRequest{Items: []LineItem{{ProductID: "P1", Quantity: 1}}, Token: "t1"})
	require.NoError(t, err)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	now = now.Add(2 * time.Hour)
	n, err = svc.PurgeSyncTokens(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestServiceNotConfigured(t *testing.T) {
	var svc *Service
	_, err := svc.Get(context.Background(), "u")
	require.Error(t, err)
	_, err = svc.PurgeExpired(context.Background())
	require.Error(t, err)
}
