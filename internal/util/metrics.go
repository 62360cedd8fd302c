package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders written to the ledger",
	}, []string{"payment_method"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"to", "override"})

	OrderTransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_status_transitions_rejected_total",
		Help: "Transitions rejected because the order was in a terminal state",
	})

	CheckoutOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outcomes_total",
		Help: "Checkout attempts by payment method and outcome",
	}, []string{"payment_method", "outcome"})

	CheckoutDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_duplicates_total",
		Help: "Checkout attempts rejected or replayed by the submission guard",
	})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Payment intents and hosted sessions requested from gateways",
	}, []string{"gateway", "result"})

	PaymentVerificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_verification_failures_total",
		Help: "Gateway-reported successes whose signature did not verify",
	})

	LedgerWriteAfterPaymentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_write_after_payment_failures_total",
		Help: "Captured payments whose order could not be recorded",
	})

	PaymentLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway relay calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "call"})

	ShippingRateFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipping_rate_fallbacks_total",
		Help: "Rate lookups that failed and fell back to the flat fee",
	})

	ShippingTokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipping_token_refreshes_total",
		Help: "Fulfillment API authentications",
	}, []string{"result"})

	ShipmentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipments_created_total",
		Help: "Shipment creation attempts",
	}, []string{"result"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Outbound notifications by kind and result",
	}, []string{"kind", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
