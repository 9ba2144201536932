package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность обработки запроса (включая downstream)
	RequestDuration *prometheus.HistogramVec

	// Traffic: запросы по виду, имени и исходу
	TotalRequests *prometheus.CounterVec

	// Отказы периметра
	AuthFailures      prometheus.Counter
	RateLimitRejected prometheus.Counter

	// Исходящие вызовы к downstream
	DownstreamCalls *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sovereign_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "name", "outcome"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_requests_total",
			Help: "Total number of processed requests.",
		}, []string{"kind", "name", "outcome"}),

		AuthFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sovereign_auth_failures_total",
			Help: "Requests rejected by bearer authentication.",
		}),

		RateLimitRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sovereign_rate_limit_rejected_total",
			Help: "Requests rejected by the per-token rate limiter.",
		}),

		DownstreamCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_downstream_calls_total",
			Help: "Outbound downstream calls by outcome.",
		}, []string{"downstream", "method", "outcome"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sovereign_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"downstream"}),
	}
}

// Observe фиксирует исход одного запроса.
func (m *Metrics) Observe(kind, name string, ok bool, seconds float64) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.TotalRequests.WithLabelValues(kind, name, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind, name, outcome).Observe(seconds)
}
