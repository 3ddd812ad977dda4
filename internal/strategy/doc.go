// Package strategy defines the instance selection interface and implements
// the selection algorithms used by the load balancer:
//
//   - Round Robin: Sequential rotation, one index per service name
//   - Random: Uniform random pick
//   - Least Response Time: Lowest average response time recorded so far
//
// Strategies only ever see the healthy subset; filtering is done by the
// load balancer before a strategy is consulted.
package strategy
