package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-engine/internal/obs"
)

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics(registry)
	obs.MustRegisterDomainMetrics(registry)

	before := testutil.ToFloat64(obs.SettingsFallbackTotal.WithLabelValues("http"))
	obs.SettingsFallbackTotal.WithLabelValues("http").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(obs.SettingsFallbackTotal.WithLabelValues("http")))

	count, err := testutil.GatherAndCount(registry, "storefront_settings_fallback_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
