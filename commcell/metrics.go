package commcell

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the SDK transport with Prometheus metrics.
// Register it on a registry and pass it to New via Config or the
// WithMetrics option; a nil *Metrics disables instrumentation.
//
//	reg := prometheus.NewRegistry()
//	m := commcell.NewMetrics(reg)
//	cc, err := commcell.New(ctx, cfg, commcell.WithMetrics(m))
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

// NewMetrics creates the transport metric collectors and registers them on
// reg. Pass prometheus.DefaultRegisterer to use the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commcell_api_requests_total",
				Help: "Total number of Commcell API requests, by method, endpoint and HTTP status code.",
			},
			[]string{"method", "endpoint", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commcell_api_request_duration_seconds",
				Help:    "Commcell API request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commcell_api_errors_total",
				Help: "Total number of failed Commcell API requests, by endpoint and error kind.",
			},
			[]string{"endpoint", "kind"},
		),
	}

	reg.MustRegister(m.requestsTotal, m.requestDuration, m.errorsTotal)
	return m
}

// observe records one completed request. Safe on a nil receiver.
func (m *Metrics) observe(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// observeError records one failed request. Safe on a nil receiver.
// kind is "transport" for network-level failures, "http" for non-2xx
// responses and "vendor" for errorCode failures inside 2xx replies.
func (m *Metrics) observeError(endpoint, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(endpoint, kind).Inc()
}
