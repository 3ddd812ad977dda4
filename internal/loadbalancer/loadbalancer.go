package loadbalancer

import (
	"errors"
	"time"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
	"github.com/angeloszaimis/resilient-gateway/internal/strategy"
)

var (
	ErrNoInstances        = errors.New("no instances")
	ErrNoHealthyInstances = errors.New("no healthy instances")
)

type LoadBalancer struct {
	strategy strategy.Strategy
	stats    *StatsRegistry
}

// NewLoadBalancer builds a balancer around strat. A nil stats registry gets
// a fresh one; pass a shared registry when the strategy reads from it.
func NewLoadBalancer(strat strategy.Strategy, stats *StatsRegistry) *LoadBalancer {
	if stats == nil {
		stats = NewStatsRegistry()
	}
	return &LoadBalancer{
		strategy: strat,
		stats:    stats,
	}
}

// SelectInstance never returns an unhealthy instance.
func (lb *LoadBalancer) SelectInstance(serviceName string, instances []instance.ServiceInstance) (instance.ServiceInstance, error) {
	if len(instances) == 0 {
		return instance.ServiceInstance{}, ErrNoInstances
	}

	healthy := instance.FilterHealthy(instances)
	if len(healthy) == 0 {
		return instance.ServiceInstance{}, ErrNoHealthyInstances
	}

	chosen, ok := lb.strategy.SelectInstance(serviceName, healthy)
	if !ok {
		return instance.ServiceInstance{}, ErrNoHealthyInstances
	}

	return chosen, nil
}

func (lb *LoadBalancer) RecordSuccess(inst instance.ServiceInstance, responseTime time.Duration) {
	lb.stats.RecordSuccess(inst.ID, responseTime)
}

func (lb *LoadBalancer) RecordFailure(inst instance.ServiceInstance) {
	lb.stats.RecordFailure(inst.ID)
}

func (lb *LoadBalancer) Stats(instanceID string) Stats {
	return lb.stats.Get(instanceID)
}

func (lb *LoadBalancer) AllStats() map[string]Stats {
	return lb.stats.All()
}

func (lb *LoadBalancer) Strategy() strategy.Strategy {
	return lb.strategy
}
