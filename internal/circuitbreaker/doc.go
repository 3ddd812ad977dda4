// Package circuitbreaker implements a per-service circuit breaker.
//
// A circuit breaker prevents cascading failures by short-circuiting calls
// to a service that keeps failing. Each service name has three states:
//
//   - CLOSED: Normal operation, calls pass through
//   - OPEN: Service failing, calls blocked until the reset timeout elapses
//   - HALF-OPEN: One probe call is admitted to test recovery
//
// Breakers live in a Registry keyed by service name. Each breaker has its
// own mutex, so different services never contend with each other.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 60*time.Second)
//	if registry.IsOpen("orders") {
//	    // fail fast
//	}
//	// Make request...
//	if err != nil {
//	    registry.RecordFailure("orders")
//	} else {
//	    registry.RecordSuccess("orders")
//	}
package circuitbreaker
