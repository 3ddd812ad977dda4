// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the gateway configuration structure:
// server and logging settings, the discovery provider, circuit breaker, retry
// and proxy tuning, the balancing strategy, and the front-door routes.
package config
