package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ReconcileTotal counts reconciliation outcomes by trigger source.
	ReconcileTotal *prometheus.CounterVec
	// ProviderRetrieveLatency records provider session retrieval latency in milliseconds.
	ProviderRetrieveLatency *prometheus.HistogramVec
	// CheckoutSessionTotal counts checkout session creation outcomes.
	CheckoutSessionTotal *prometheus.CounterVec
	// InvoiceComputeTotal counts invoice total computations by outcome.
	InvoiceComputeTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of payment session reconciliation outcomes.",
		}, []string{"trigger", "result"})
		ProviderRetrieveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_retrieve_duration_ms",
			Help:      "Latency for provider session retrieval in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		CheckoutSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_total",
			Help:      "Count of checkout session creation outcomes.",
		}, []string{"result"})
		InvoiceComputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_compute_total",
			Help:      "Count of invoice total computations by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, ReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTotal = v
			}
		})
		mustRegisterCollector(reg, ProviderRetrieveLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderRetrieveLatency = v
			}
		})
		mustRegisterCollector(reg, CheckoutSessionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutSessionTotal = v
			}
		})
		mustRegisterCollector(reg, InvoiceComputeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				InvoiceComputeTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, c prometheus.Collector, replace func(prometheus.Collector)) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			replace(are.ExistingCollector)
			return
		}
		panic(err)
	}
}
