// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_orders_created_total",
		Help: "Total number of orders created.",
	})

	OffersAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_offers_accepted_total",
		Help: "Total number of offers accepted.",
	})

	EscrowHoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_escrow_holds_total",
		Help: "Total number of escrow holds placed.",
	})

	DisputesResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_disputes_resolved_total",
		Help: "Total number of disputes resolved, by decision.",
	},
		[]string{"decision"},
	)

	PaymentProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_payment_provider_errors_total",
		Help: "Total number of payment provider call failures, by operation.",
	},
		[]string{"operation"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_operation_errors_total",
		Help: "Total number of rejected engine operations, by operation and error kind.",
	},
		[]string{"operation", "kind"},
	)

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_outbox_published_total",
		Help: "Total number of outbox messages delivered to Kafka.",
	})
)
