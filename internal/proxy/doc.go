// Package proxy forwards a request to one instance of a named service.
//
// A forward looks up the service's instances in discovery, consults the
// service's circuit breaker, picks an instance through the load balancer and
// calls it with retries. The outcome is recorded into both the breaker and
// the balancer. Callers always get one of four results: a response,
// *UpstreamError, a *ServiceUnavailableError, or an error wrapping
// discovery.ErrDiscoveryUnavailable.
package proxy
