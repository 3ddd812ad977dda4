package discovery

import (
	"context"
	"errors"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

// ErrDiscoveryUnavailable is returned when the backend cannot be reached
// for a service that has no cached entry.
var ErrDiscoveryUnavailable = errors.New("discovery unavailable")

// Backend is the source of truth for service instances.
type Backend interface {
	ListServiceNames(ctx context.Context) ([]string, error)
	ListInstances(ctx context.Context, serviceName string) ([]instance.ServiceInstance, error)
	// Watch calls onUpdate with the full instance list whenever it changes.
	// The backend owns reconnects; a terminal failure is delivered once on
	// the subscription's Err channel.
	Watch(ctx context.Context, serviceName string, onUpdate func([]instance.ServiceInstance)) (Subscription, error)
}

type Subscription interface {
	Stop()
	// Err yields at most one terminal error and is closed when the watch ends.
	Err() <-chan error
}

type ChangeType string

const (
	ChangeAdded         ChangeType = "added"
	ChangeRemoved       ChangeType = "removed"
	ChangeHealthChanged ChangeType = "health_changed"
)

type ChangeEvent struct {
	Service   string
	Type      ChangeType
	Instances []instance.ServiceInstance
}

type Listener func(ChangeEvent)

// Diff compares two snapshots of a service by instance ID. Instances keep
// the order of the snapshot they were found in; health_changed entries
// carry the current state.
func Diff(serviceName string, previous, current []instance.ServiceInstance) []ChangeEvent {
	prevByID := make(map[string]instance.ServiceInstance, len(previous))
	for _, inst := range previous {
		prevByID[inst.ID] = inst
	}
	currIDs := make(map[string]struct{}, len(current))
	for _, inst := range current {
		currIDs[inst.ID] = struct{}{}
	}

	var added, removed, changed []instance.ServiceInstance
	for _, inst := range current {
		prev, ok := prevByID[inst.ID]
		switch {
		case !ok:
			added = append(added, inst)
		case prev.Status != inst.Status:
			changed = append(changed, inst)
		}
	}
	for _, inst := range previous {
		if _, ok := currIDs[inst.ID]; !ok {
			removed = append(removed, inst)
		}
	}

	var events []ChangeEvent
	if len(added) > 0 {
		events = append(events, ChangeEvent{Service: serviceName, Type: ChangeAdded, Instances: added})
	}
	if len(removed) > 0 {
		events = append(events, ChangeEvent{Service: serviceName, Type: ChangeRemoved, Instances: removed})
	}
	if len(changed) > 0 {
		events = append(events, ChangeEvent{Service: serviceName, Type: ChangeHealthChanged, Instances: changed})
	}
	return events
}
