// Package loadbalancer selects one healthy instance per call and keeps
// per-instance call statistics for the lifetime of the process.
package loadbalancer
