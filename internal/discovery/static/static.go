// Package static provides an in-memory discovery backend seeded from
// configuration. Instance lists and health flags are updated through Set and
// SetStatus, which push the new list to every watcher of that service.
package static

import (
	"context"
	"sort"
	"sync"

	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

type Backend struct {
	mutex    sync.RWMutex
	services map[string][]instance.ServiceInstance
	watchers map[string]map[*subscription]struct{}
}

var _ discovery.Backend = (*Backend)(nil)

func New(services map[string][]instance.ServiceInstance) *Backend {
	b := &Backend{
		services: make(map[string][]instance.ServiceInstance, len(services)),
		watchers: make(map[string]map[*subscription]struct{}),
	}
	for name, instances := range services {
		b.services[name] = withName(name, instances)
	}
	return b
}

func (b *Backend) ListServiceNames(_ context.Context) ([]string, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	names := make([]string, 0, len(b.services))
	for name := range b.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListInstances returns an empty list for unknown services.
func (b *Backend) ListInstances(_ context.Context, serviceName string) ([]instance.ServiceInstance, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return instance.CloneAll(b.services[serviceName]), nil
}

func (b *Backend) Watch(ctx context.Context, serviceName string, onUpdate func([]instance.ServiceInstance)) (discovery.Subscription, error) {
	sub := &subscription{
		backend:  b,
		service:  serviceName,
		onUpdate: onUpdate,
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}

	b.mutex.Lock()
	if b.watchers[serviceName] == nil {
		b.watchers[serviceName] = make(map[*subscription]struct{})
	}
	b.watchers[serviceName][sub] = struct{}{}
	b.mutex.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Set replaces the instance list of serviceName.
func (b *Backend) Set(serviceName string, instances []instance.ServiceInstance) {
	b.mutex.Lock()
	b.services[serviceName] = withName(serviceName, instances)
	b.mutex.Unlock()

	b.notify(serviceName)
}

// SetStatus updates one instance and reports whether its status changed.
func (b *Backend) SetStatus(serviceName, id string, status instance.Status) bool {
	b.mutex.Lock()
	current := b.services[serviceName]
	idx := -1
	for i := range current {
		if current[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || current[idx].Status == status {
		b.mutex.Unlock()
		return false
	}

	next := instance.CloneAll(current)
	next[idx].Status = status
	b.services[serviceName] = next
	b.mutex.Unlock()

	b.notify(serviceName)
	return true
}

func (b *Backend) notify(serviceName string) {
	b.mutex.RLock()
	snapshot := instance.CloneAll(b.services[serviceName])
	subs := make([]*subscription, 0, len(b.watchers[serviceName]))
	for sub := range b.watchers[serviceName] {
		subs = append(subs, sub)
	}
	b.mutex.RUnlock()

	for _, sub := range subs {
		sub.onUpdate(instance.CloneAll(snapshot))
	}
}

func (b *Backend) remove(sub *subscription) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.watchers[sub.service], sub)
}

type subscription struct {
	backend  *Backend
	service  string
	onUpdate func([]instance.ServiceInstance)
	errCh    chan error
	done     chan struct{}
	once     sync.Once
}

func (s *subscription) Stop() {
	s.once.Do(func() {
		s.backend.remove(s)
		close(s.done)
		close(s.errCh)
	})
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

func withName(serviceName string, instances []instance.ServiceInstance) []instance.ServiceInstance {
	out := instance.CloneAll(instances)
	for i := range out {
		if out[i].Name == "" {
			out[i].Name = serviceName
		}
	}
	return out
}
