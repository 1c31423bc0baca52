package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Forward outcomes used as the "outcome" label
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeUnreachable = "unreachable"
	OutcomeInternal    = "internal"
)

// Prometheus metrics
var (
	MetricForwardRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexgw_forward_requests_total",
			Help: "Total number of forwarded requests by service and outcome",
		},
		[]string{"service", "outcome"},
	)
	MetricForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flexgw_forward_duration_seconds",
			Help:    "Downstream round trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	MetricRouteMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flexgw_route_misses_total",
			Help: "Total number of requests that matched no route",
		},
	)
	MetricHTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexgw_http_requests_total",
			Help: "Total number of inbound requests by response status",
		},
		[]string{"status"},
	)
	MetricServicesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flexgw_services_registered",
			Help: "Number of services in the frozen registry",
		},
	)
	MetricRoutesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flexgw_routes_registered",
			Help: "Number of route definitions in the frozen route table",
		},
	)
	MetricSnapshotsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flexgw_snapshots_pushed_total",
			Help: "Total number of xDS snapshots pushed to the cache",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers Prometheus metrics with the default registerer.
// Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MetricForwardRequests)
		prometheus.MustRegister(MetricForwardDuration)
		prometheus.MustRegister(MetricRouteMisses)
		prometheus.MustRegister(MetricHTTPRequests)
		prometheus.MustRegister(MetricServicesRegistered)
		prometheus.MustRegister(MetricRoutesRegistered)
		prometheus.MustRegister(MetricSnapshotsPushed)
	})
}
