package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WebhookInboundTotal counts inbound invoicing webhook outcomes.
	WebhookInboundTotal *prometheus.CounterVec
	// InvoiceCreateTotal counts provider invoice-creation outcomes.
	InvoiceCreateTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout reconciliation outcomes.
	CheckoutTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the gateway's Prometheus
// collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WebhookInboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_inbound_total",
			Help:      "Count of inbound invoicing webhooks by outcome.",
		}, []string{"result"})
		InvoiceCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_create_total",
			Help:      "Count of provider invoice creation attempts by outcome.",
		}, []string{"result"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout reconciliation outcomes.",
		}, []string{"result"})

		registerCounterVec(reg, &WebhookInboundTotal)
		registerCounterVec(reg, &InvoiceCreateTotal)
		registerCounterVec(reg, &CheckoutTotal)
	})
}

func registerCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				*vec = existing
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
