package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventForwardCompleted  EventType = "forward_completed"
	EventInstanceSelected  EventType = "instance_selected"
	EventRetryScheduled    EventType = "retry_scheduled"
	EventCircuitRejected   EventType = "circuit_rejected"
	EventBreakerTransition EventType = "breaker_transition"
	EventInstancesChanged  EventType = "instances_changed"
)

// Forward outcomes.
const (
	OutcomeSuccess              = "success"
	OutcomeUpstreamError        = "upstream_error"
	OutcomeServiceUnavailable   = "service_unavailable"
	OutcomeDiscoveryUnavailable = "discovery_unavailable"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Service    string
	Instance   string
	Duration   time.Duration
	StatusCode int
	Outcome    string
	Attempt    int
	// From and To are breaker states for EventBreakerTransition.
	From string
	To   string
	// Change and Count describe EventInstancesChanged.
	Change string
	Count  int
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *promMetrics
	dropped    atomic.Int64
	logger     *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:    make(chan MetricEvent, bufferSize),
		metrics:    NewMetrics(),
		prometheus: newPromMetrics(),
		logger:     logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
		c.prometheus.droppedEvents.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventForwardCompleted:
		c.metrics.RecordForward(event.Service, event.Duration, event.StatusCode, event.Outcome)

	case EventInstanceSelected:
		c.metrics.RecordSelection(event.Service, event.Instance)

	case EventRetryScheduled:
		c.metrics.RecordRetry(event.Service)

	case EventCircuitRejected:
		c.metrics.RecordRejection(event.Service)

	case EventBreakerTransition:
		c.metrics.RecordTransition(event.Service, event.To)

	case EventInstancesChanged:
		c.metrics.RecordDiscoveryChange(event.Service, event.Change, event.Count)

	default:
		c.logger.Debug("unknown metric event", slog.String("type", string(event.Type)))
		return
	}

	c.prometheus.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	snap := c.metrics.Snapshot(strategy)
	snap.DroppedEvents = c.dropped.Load()
	return snap
}
