// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "orders_created_total",
		Help:      "Orders created from checkout.",
	})

	CheckoutRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "checkout_rejected_total",
		Help:      "Checkouts rejected before an order was persisted.",
	}, []string{"reason"})

	StockReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "stock_operations_total",
		Help:      "Inventory ledger operations by kind.",
	}, []string{"op"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "settlements_total",
		Help:      "Settlement outcomes by payment method.",
	}, []string{"method", "outcome"})

	CaptureRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "capture_retries_total",
		Help:      "Retried card capture calls after infrastructure faults.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "order_transitions_total",
		Help:      "Order status transitions by target status.",
	}, []string{"to"})

	ReaperExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "payments_expired_total",
		Help:      "Awaiting-payment orders failed by the reaper.",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "notifications_sent_total",
		Help:      "Invoice and receipt documents handed to the sender.",
	}, []string{"kind"})
)
