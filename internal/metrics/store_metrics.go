package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cart mutation operations
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
	OpClear  = "clear"
)

// Reasons a checkout did not reach the order sheet
const (
	ReasonValidation = "validation"
	ReasonEmptyCart  = "empty_cart"
	ReasonUpstream   = "upstream"
	ReasonInProgress = "in_progress"
)

// StoreMetrics holds the storefront's prometheus collectors
type StoreMetrics struct {
	cartMutations *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec

	ordersSubmitted    prometheus.Counter
	ordersFailed       *prometheus.CounterVec
	orderAmount        prometheus.Histogram
	submissionDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewStoreMetrics registers the collectors with the default registerer
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewStoreMetricsWithRegisterer(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StoreMetrics{
		cartMutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "store_cart_mutations_total",
			Help: "Total number of cart mutations by operation",
		}, []string{"op"}),
		cacheLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "store_cart_cache_lookups_total",
			Help: "Cart cache lookups by result",
		}, []string{"result"}),
		ordersSubmitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "store_orders_submitted_total",
			Help: "Total number of orders delivered to the order sheet",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "store_orders_failed_total",
			Help: "Total number of checkouts that did not produce an order",
		}, []string{"reason"}),
		orderAmount: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "store_order_amount",
			Help:    "Order amount including shipping",
			Buckets: []float64{50, 100, 200, 300, 500, 1000, 2500},
		}),
		submissionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "store_order_submission_duration_seconds",
			Help:    "Duration of order sheet submissions in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "store_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "store_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

func (m *StoreMetrics) RecordCartMutation(op string) {
	m.cartMutations.WithLabelValues(op).Inc()
}

// RecordCacheLookup counts a cart cache hit or miss
func (m *StoreMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordOrderSubmitted counts a delivered order and observes its amount
func (m *StoreMetrics) RecordOrderSubmitted(amount float64) {
	m.ordersSubmitted.Inc()
	m.orderAmount.Observe(amount)
}

func (m *StoreMetrics) RecordOrderFailed(reason string) {
	m.ordersFailed.WithLabelValues(reason).Inc()
}

func (m *StoreMetrics) RecordSubmissionDuration(duration time.Duration) {
	m.submissionDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request. Route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *StoreMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
