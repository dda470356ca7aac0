package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CouponValidationsTotal counts coupon evaluations by promotion type and outcome.
	CouponValidationsTotal *prometheus.CounterVec
	// CouponDiscountTotal accumulates granted discounts by promotion type.
	CouponDiscountTotal *prometheus.CounterVec
	// OrdersCreatedTotal counts order placement outcomes.
	OrdersCreatedTotal *prometheus.CounterVec
	// OrderStatusTransitionsTotal counts dashboard status changes.
	OrderStatusTransitionsTotal *prometheus.CounterVec
	// MenuCacheTotal counts menu cache lookups by result.
	MenuCacheTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// WebhookDispatchAttempts counts dispatcher attempts regardless of outcome.
	WebhookDispatchAttempts prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CouponValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_validations_total",
			Help:      "Count of coupon evaluations by promotion type and result.",
		}, []string{"kind", "result"})
		CouponDiscountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_discount_amount_total",
			Help:      "Sum of discounts granted on placed orders by promotion type.",
		}, []string{"kind"})
		OrdersCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Count of order placement attempts by result.",
		}, []string{"result"})
		OrderStatusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Count of order status transitions.",
		}, []string{"from", "to"})
		MenuCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "menu_cache_total",
			Help:      "Count of menu cache lookups by result.",
		}, []string{"result"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		WebhookDispatchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_attempts_total",
			Help:      "Total number of webhook dispatch attempts.",
		})

		CouponValidationsTotal = registerOrReuse(reg, CouponValidationsTotal)
		CouponDiscountTotal = registerOrReuse(reg, CouponDiscountTotal)
		OrdersCreatedTotal = registerOrReuse(reg, OrdersCreatedTotal)
		OrderStatusTransitionsTotal = registerOrReuse(reg, OrderStatusTransitionsTotal)
		MenuCacheTotal = registerOrReuse(reg, MenuCacheTotal)
		WebhookDeliveriesTotal = registerOrReuse(reg, WebhookDeliveriesTotal)
		WebhookAttemptLatency = registerOrReuse(reg, WebhookAttemptLatency)
		WebhookDispatchAttempts = registerOrReuse(reg, WebhookDispatchAttempts)
	})
}

// ObserveCouponValidation records one coupon evaluation. An empty reason means the coupon applied.
func ObserveCouponValidation(kind, reason string) {
	if CouponValidationsTotal == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if reason == "" {
		reason = "applied"
	}
	CouponValidationsTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveCouponDiscount adds a granted discount to the running total.
func ObserveCouponDiscount(kind string, amount float64) {
	if CouponDiscountTotal == nil || amount <= 0 {
		return
	}
	CouponDiscountTotal.WithLabelValues(kind).Add(amount)
}

// ObserveOrderCreated records an order placement outcome.
func ObserveOrderCreated(result string) {
	if OrdersCreatedTotal == nil {
		return
	}
	OrdersCreatedTotal.WithLabelValues(result).Inc()
}

// ObserveOrderTransition records a status change.
func ObserveOrderTransition(from, to string) {
	if OrderStatusTransitionsTotal == nil {
		return
	}
	OrderStatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveMenuCache records a menu cache hit or miss.
func ObserveMenuCache(hit bool) {
	if MenuCacheTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	MenuCacheTotal.WithLabelValues(result).Inc()
}
