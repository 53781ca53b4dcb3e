package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_started_total",
		Help: "Total number of purchase sagas started",
	})

	PurchasesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_completed_total",
		Help: "Total number of purchase sagas completed successfully",
	})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_failed_total",
		Help: "Total number of failed purchase sagas",
	}, []string{"reason"})

	PurchaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "purchase_duration_seconds",
		Help:    "End-to-end latency of purchase sagas",
		Buckets: prometheus.DefBuckets,
	})

	CompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_compensations_total",
		Help: "Total number of purchase sagas that ran compensation",
	})

	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of stock reservations created",
	})

	ReservationsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_confirmed_total",
		Help: "Total number of stock reservations confirmed",
	})

	ReservationsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_cancelled_total",
		Help: "Total number of stock reservations cancelled",
	})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Total number of stock reservations released by the expiry sweep",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reservation attempts",
	}, []string{"reason"})

	ReservationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	ApprovalRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approval_requests_total",
		Help: "Total number of finance approval requests submitted",
	})

	ApprovalDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_decisions_total",
		Help: "Total number of finance approval decisions applied",
	}, []string{"outcome"})

	ApprovalDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approval_duplicate_decisions_total",
		Help: "Total number of decisions ignored because the request was already terminal",
	})

	BreakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_gateway_breaker_transitions_total",
		Help: "Circuit breaker state transitions for the approval gateway",
	}, []string{"state"})

	LowStockEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "low_stock_events_total",
		Help: "Total number of low-stock events emitted",
	})

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
