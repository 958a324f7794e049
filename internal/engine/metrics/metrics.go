// Package metrics provides kernel and module metrics collection.
// It wraps Prometheus collectors to provide structured telemetry for
// operations, trade interception, ledger activity, batches and conversions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides spendsave metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Operation metrics
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	reverts          *prometheus.CounterVec

	// Interception metrics
	tradesTotal        *prometheus.CounterVec
	contributionsTotal *prometheus.CounterVec

	// Ledger metrics
	ledgerOpsTotal *prometheus.CounterVec

	// Batch metrics
	batchesTotal *prometheus.CounterVec
	batchSize    *prometheus.HistogramVec

	// Conversion metrics
	conversionsTotal *prometheus.CounterVec
	queueDepth       prometheus.Gauge

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	uptime    prometheus.Gauge
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "spendsave"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operation",
			Name:      "total",
			Help:      "Total number of outer operations by name and result",
		},
		[]string{"operation", "result"},
	)

	c.operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "operation",
			Name:      "duration_seconds",
			Help:      "Time spent inside an operation scope",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"operation"},
	)

	c.reverts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operation",
			Name:      "reverts_total",
			Help:      "Total number of reverted operations by error kind",
		},
		[]string{"operation", "kind"},
	)

	c.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hook",
			Name:      "trades_total",
			Help:      "Total number of intercepted trade phases (path: fast, strategy, skipped)",
		},
		[]string{"phase", "path"},
	)

	c.contributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "savings",
			Name:      "contributions_total",
			Help:      "Total number of recorded contributions by savings token type",
		},
		[]string{"token_type"},
	)

	c.ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "ops_total",
			Help:      "Total number of ledger operations",
		},
		[]string{"op", "result"},
	)

	c.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "total",
			Help:      "Total number of coordinator batches",
		},
		[]string{"mode", "result"},
	)

	c.batchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size",
			Help:      "Number of calls per batch",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		},
		[]string{"mode"},
	)

	c.conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dca",
			Name:      "conversions_total",
			Help:      "Total number of deferred conversions by result",
		},
		[]string{"result"},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dca",
			Name:      "queue_depth",
			Help:      "Current number of queued conversions",
		},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of query API requests",
		},
		[]string{"route", "method", "status"},
	)

	c.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Query API latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"route"},
	)

	c.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)

	c.registry.MustRegister(
		c.operationsTotal,
		c.operationLatency,
		c.reverts,
		c.tradesTotal,
		c.contributionsTotal,
		c.ledgerOpsTotal,
		c.batchesTotal,
		c.batchSize,
		c.conversionsTotal,
		c.queueDepth,
		c.httpRequests,
		c.httpLatency,
		c.uptime,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOperation records a committed or reverted outer operation.
func (c *Collector) RecordOperation(name string, duration time.Duration, err error) {
	c.operationsTotal.WithLabelValues(name, result(err)).Inc()
	c.operationLatency.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordRevert records a reverted operation with the kind of its error.
func (c *Collector) RecordRevert(name, kind string) {
	c.reverts.WithLabelValues(name, kind).Inc()
}

// RecordTrade records one intercepted trade phase.
func (c *Collector) RecordTrade(phase, path string) {
	c.tradesTotal.WithLabelValues(phase, path).Inc()
}

// RecordContribution records a credited contribution.
func (c *Collector) RecordContribution(tokenType string) {
	c.contributionsTotal.WithLabelValues(tokenType).Inc()
}

// RecordLedgerOp records a ledger operation.
func (c *Collector) RecordLedgerOp(op string, err error) {
	c.ledgerOpsTotal.WithLabelValues(op, result(err)).Inc()
}

// RecordBatch records a coordinator batch.
func (c *Collector) RecordBatch(mode string, size int, err error) {
	c.batchesTotal.WithLabelValues(mode, result(err)).Inc()
	c.batchSize.WithLabelValues(mode).Observe(float64(size))
}

// RecordConversion records an executed or failed deferred conversion.
func (c *Collector) RecordConversion(err error) {
	c.conversionsTotal.WithLabelValues(result(err)).Inc()
}

// RecordQueueDepth records the number of queued conversions.
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordHTTPRequest records query API metrics.
func (c *Collector) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, httpStatusLabel(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// UpdateUptime updates the uptime metric.
func (c *Collector) UpdateUptime() {
	c.uptime.Set(time.Since(c.startTime).Seconds())
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// NoOpCollector is a metrics collector that discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordOperation(name string, d time.Duration, err error)        {}
func (*NoOpCollector) RecordRevert(name, kind string)                                 {}
func (*NoOpCollector) RecordTrade(phase, path string)                                 {}
func (*NoOpCollector) RecordContribution(tokenType string)                            {}
func (*NoOpCollector) RecordLedgerOp(op string, err error)                            {}
func (*NoOpCollector) RecordBatch(mode string, size int, err error)                   {}
func (*NoOpCollector) RecordConversion(err error)                                     {}
func (*NoOpCollector) RecordQueueDepth(depth int)                                     {}
func (*NoOpCollector) RecordHTTPRequest(route, method string, s int, d time.Duration) {}
func (*NoOpCollector) UpdateUptime()                                                  {}

// MetricsCollector is the interface for metrics collection.
type MetricsCollector interface {
	RecordOperation(name string, duration time.Duration, err error)
	RecordRevert(name, kind string)
	RecordTrade(phase, path string)
	RecordContribution(tokenType string)
	RecordLedgerOp(op string, err error)
	RecordBatch(mode string, size int, err error)
	RecordConversion(err error)
	RecordQueueDepth(depth int)
	RecordHTTPRequest(route, method string, status int, duration time.Duration)
	UpdateUptime()
}

// Verify interface compliance
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = (*NoOpCollector)(nil)
)
