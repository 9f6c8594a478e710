package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const domainNamespace = "storefront"

var (
	domainOnce sync.Once

	// PricingComputeTotal counts totals computations by outcome (ok, invalid).
	PricingComputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "pricing_compute_total",
		Help:      "Count of order totals computations by outcome.",
	}, []string{"result"})
	// PromocodeValidationTotal counts validation outcomes; result is "valid" or the rejection reason.
	PromocodeValidationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "promocode_validation_total",
		Help:      "Count of promocode validations by outcome.",
	}, []string{"result"})
	// CartReconcileTotal counts login-time cart merges by outcome (merged, empty, replayed, failed).
	CartReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "cart_reconcile_total",
		Help:      "Count of anonymous-to-authenticated cart merges by outcome.",
	}, []string{"result"})
	// SettingsFallbackTotal counts how often the canonical fallback settings were served.
	SettingsFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "settings_fallback_total",
		Help:      "Number of pricing settings lookups answered with fallback values.",
	}, []string{"source"})
	// JobRunsTotal counts maintenance job executions.
	JobRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "job_runs_total",
		Help:      "Count of background maintenance job runs by task and outcome.",
	}, []string{"task", "result"})
)

// MustRegisterDomainMetrics registers the domain collectors once. Collectors count even when
// unregistered, so packages and tests can use them without calling this.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingComputeTotal = registerCollector(reg, PricingComputeTotal)
		PromocodeValidationTotal = registerCollector(reg, PromocodeValidationTotal)
		CartReconcileTotal = registerCollector(reg, CartReconcileTotal)
		SettingsFallbackTotal = registerCollector(reg, SettingsFallbackTotal)
		JobRunsTotal = registerCollector(reg, JobRunsTotal)
	})
}

// registerCollector registers c, returning the already registered collector of the same
// description when there is one.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
			return c
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return c
}
