package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled by customers",
	})

	OrdersReturnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_returned_total",
		Help: "Total number of delivered orders returned",
	})

	CancellationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cancellations_rejected_total",
		Help: "Total number of rejected cancellation/return requests",
	}, []string{"reason"})

	RefundsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_issued_total",
		Help: "Total number of gateway refund attempts",
	}, []string{"status"})

	RefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_amount_total",
		Help: "Total amount refunded through the gateway",
	})

	RefundGatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "refund_gateway_latency_seconds",
		Help:    "Latency of payment gateway refund calls",
		Buckets: prometheus.DefBuckets,
	})

	StockRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restored_total",
		Help: "Total units of stock restored by cancellations and returns",
	})

	ScheduledJobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduled_jobs_processed_total",
		Help: "Total number of scheduled jobs processed by the sweeper",
	}, []string{"status"})

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
