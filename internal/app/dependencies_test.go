package app

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-engine/internal/config"
)

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0", false, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "://nope", false, zerolog.Nop())
	require.ErrorContains(t, err, "parse redis url")
}

func TestOpenPostgresRejectsBadURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://%zz", "test")
	require.ErrorContains(t, err, "parse database config")
}

func TestOutboundClient(t *testing.T) {
	cfg := config.OutboundConfig{Timeout: time.Second, RetryBase: 10 * time.Millisecond, CircuitMinRequests: 2}
	cl := OutboundClient(cfg, "settings", 3, zerolog.Nop())
	require.Equal(t, "settings", cl.Target)
	require.Equal(t, 3, cl.MaxAttempts)
	require.NotNil(t, cl.Breaker)
	require.Equal(t, time.Second, cl.Client.Timeout)
}

func TestCloseNil(t *testing.T) {
	var d *Dependencies
	d.Close(context.Background(), zerolog.Nop())
}
