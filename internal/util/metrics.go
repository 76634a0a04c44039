package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProductsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "products_created_total",
		Help: "Total number of products added to the catalog",
	})

	ProductsArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "products_archived_total",
		Help: "Total number of products archived",
	})

	StockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_total",
		Help: "Total number of ledger entries written",
	}, []string{"type"})

	LedgerCommandsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commands_failed_total",
		Help: "Total number of rejected or failed ledger commands",
	}, []string{"command", "reason"})

	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of committed checkouts",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout commits",
		Buckets: prometheus.DefBuckets,
	})

	LowStockAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "low_stock_alerts_total",
		Help: "Total number of movements that left a product at or below its threshold",
	})

	LowStockProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_low_stock_products",
		Help: "Number of active products at or below their low stock threshold",
	})

	StockValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_stock_value",
		Help: "Sum of price times quantity over active products",
	})

	LedgerMismatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_mismatched_products",
		Help: "Products whose quantity does not match the replayed ledger",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Number of open operator sessions",
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
