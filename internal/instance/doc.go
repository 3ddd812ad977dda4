// Package instance defines ServiceInstance, the value describing one
// network-addressable replica of a named backend service.
//
// Instances are immutable snapshots: a discovery refresh replaces them,
// nothing mutates them in place.
package instance
