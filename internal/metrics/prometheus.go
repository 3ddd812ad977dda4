package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// promMetrics is registered on a per-collector registry, not the global one.
type promMetrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	selectionsTotal  *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	discoveryChanges *prometheus.CounterVec
	droppedEvents    prometheus.Counter
}

func newPromMetrics() *promMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &promMetrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of forwarded requests by outcome",
			},
			[]string{"service", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Duration of forwarded requests including retries",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		selectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loadbalancer",
				Name:      "selections_total",
				Help:      "Total number of instance selections",
			},
			[]string{"service", "instance"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total number of scheduled retries",
			},
			[]string{"service"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "rejections_total",
				Help:      "Total number of requests rejected by an open circuit",
			},
			[]string{"service"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"service", "to"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		discoveryChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "changes_total",
				Help:      "Total number of instance changes seen by discovery watches",
			},
			[]string{"service", "change"},
		),
		droppedEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "metrics",
				Name:      "dropped_events_total",
				Help:      "Total number of metric events dropped on a full buffer",
			},
		),
	}
}

func (p *promMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventForwardCompleted:
		p.requestsTotal.WithLabelValues(event.Service, event.Outcome).Inc()
		p.requestDuration.WithLabelValues(event.Service).Observe(event.Duration.Seconds())

	case EventInstanceSelected:
		p.selectionsTotal.WithLabelValues(event.Service, event.Instance).Inc()

	case EventRetryScheduled:
		p.retriesTotal.WithLabelValues(event.Service).Inc()

	case EventCircuitRejected:
		p.rejectionsTotal.WithLabelValues(event.Service).Inc()

	case EventBreakerTransition:
		p.transitionsTotal.WithLabelValues(event.Service, event.To).Inc()
		p.breakerState.WithLabelValues(event.Service).Set(stateValue(event.To))

	case EventInstancesChanged:
		p.discoveryChanges.WithLabelValues(event.Service, event.Change).Add(float64(event.Count))
	}
}

func stateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF-OPEN":
		return 2
	default:
		return 0
	}
}

// Registry exposes the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.prometheus.registry
}
