package strategy

import (
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

// roundRobinStrategy keeps one rotating counter per service name so that
// traffic to one service never skews the rotation of another.
type roundRobinStrategy struct {
	mutex    sync.RWMutex
	counters map[string]*atomic.Uint64
}

func (rb *roundRobinStrategy) SelectInstance(serviceName string, instances []instance.ServiceInstance) (instance.ServiceInstance, bool) {
	if len(instances) == 0 {
		return instance.ServiceInstance{}, false
	}

	n := rb.counter(serviceName).Add(1)

	index := (n - 1) % uint64(len(instances))

	return instances[index], true
}

func (rb *roundRobinStrategy) counter(serviceName string) *atomic.Uint64 {
	rb.mutex.RLock()
	c, exists := rb.counters[serviceName]
	rb.mutex.RUnlock()

	if exists {
		return c
	}

	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	if c, exists = rb.counters[serviceName]; exists {
		return c
	}

	c = &atomic.Uint64{}
	rb.counters[serviceName] = c
	return c
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{
		counters: make(map[string]*atomic.Uint64),
	}
}
