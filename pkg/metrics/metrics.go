package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	requests       *prometheus.CounterVec
	moduleCalls    *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
	dropped        *prometheus.CounterVec
	breakerChanges *prometheus.CounterVec
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goradius",
				Name:      "requests_total",
				Help:      "Processed RADIUS requests by request and reply code",
			}, []string{"code", "reply"}),
			moduleCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goradius",
				Subsystem: "module",
				Name:      "calls_total",
				Help:      "Module callback invocations by instance, method and return code",
			}, []string{"instance", "method", "rcode"}),
			moduleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "goradius",
				Subsystem: "module",
				Name:      "call_duration_seconds",
				Help:      "Module callback latency",
				Buckets:   prometheus.DefBuckets,
			}, []string{"instance", "method"}),
			dropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goradius",
				Name:      "dropped_packets_total",
				Help:      "Packets dropped by the server",
			}, []string{"reason"}),
			breakerChanges: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goradius",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Backend circuit breaker state transitions",
			}, []string{"name", "from", "to"}),
		}
	})
	return metrics
}

func (m *Metrics) Request(code, reply string) {
	m.requests.WithLabelValues(code, reply).Inc()
}

func (m *Metrics) ModuleCall(instance, method, rcode string, d time.Duration) {
	m.moduleCalls.WithLabelValues(instance, method, rcode).Inc()
	m.moduleDuration.WithLabelValues(instance, method).Observe(d.Seconds())
}

func (m *Metrics) Dropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) BreakerTransition(name, from, to string) {
	m.breakerChanges.WithLabelValues(name, from, to).Inc()
}
