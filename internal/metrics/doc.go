// Package metrics provides real-time metrics collection for the gateway.
//
// It uses a channel-based event pipeline to asynchronously collect metrics about:
//   - Forwarded requests per service and their outcome
//   - Instance selection frequencies
//   - Response times with percentile calculations (P50, P95, P99)
//   - Retries and circuit breaker rejections and transitions
//   - Discovery changes (instances added, removed, health changed)
//
// The collector runs in a dedicated goroutine and processes events without blocking
// the request path. Emit is non-blocking: when the buffer is full the event is
// dropped and counted.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventForwardCompleted,
//		Service:    "orders",
//		Instance:   "orders-1",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//		Outcome:    metrics.OutcomeSuccess,
//	})
//
//	snapshot := collector.Snapshot("round-robin")
//
// Every event also updates Prometheus collectors on the collector's own
// registry, served by PrometheusHandler.
package metrics
