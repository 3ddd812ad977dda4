// Package retry runs an operation with bounded retries and exponential
// backoff plus additive jitter.
//
// The delay before attempt k (k >= 2) is baseDelay * 2^(k-2) plus a random
// jitter in [0, maxJitter). There is no ceiling on the delay.
//
// Example usage:
//
//	exec := retry.NewExecutor(retry.DefaultConfig())
//	body, err := retry.Execute(ctx, exec, "orders", func() ([]byte, error) {
//		return call()
//	}, nil)
package retry
