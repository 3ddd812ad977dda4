package loadbalancer

import (
	"sync"
	"time"
)

// Stats is a snapshot of the counters kept for one instance id.
type Stats struct {
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}

type instanceStats struct {
	mutex sync.Mutex
	stats Stats
}

// StatsRegistry holds one independently locked counter set per instance id.
// Counters only ever grow.
type StatsRegistry struct {
	mutex     sync.RWMutex
	instances map[string]*instanceStats
}

func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{
		instances: make(map[string]*instanceStats),
	}
}

func (r *StatsRegistry) get(id string) *instanceStats {
	r.mutex.RLock()
	s, exists := r.instances[id]
	r.mutex.RUnlock()

	if exists {
		return s
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if s, exists = r.instances[id]; exists {
		return s
	}

	s = &instanceStats{}
	r.instances[id] = s
	return s
}

// RecordSuccess folds responseTime into the running average, using the
// number of successful calls as the denominator.
func (r *StatsRegistry) RecordSuccess(id string, responseTime time.Duration) {
	s := r.get(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stats.TotalRequests++
	s.stats.SuccessfulRequests++
	n := time.Duration(s.stats.SuccessfulRequests)
	s.stats.AverageResponseTime = (s.stats.AverageResponseTime*(n-1) + responseTime) / n
}

func (r *StatsRegistry) RecordFailure(id string) {
	s := r.get(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stats.TotalRequests++
	s.stats.FailedRequests++
}

// Get returns the counters for id; unknown ids yield zero values without
// being created.
func (r *StatsRegistry) Get(id string) Stats {
	r.mutex.RLock()
	s, exists := r.instances[id]
	r.mutex.RUnlock()

	if !exists {
		return Stats{}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stats
}

func (r *StatsRegistry) All() map[string]Stats {
	r.mutex.RLock()
	ids := make(map[string]*instanceStats, len(r.instances))
	for id, s := range r.instances {
		ids[id] = s
	}
	r.mutex.RUnlock()

	out := make(map[string]Stats, len(ids))
	for id, s := range ids {
		s.mutex.Lock()
		out[id] = s.stats
		s.mutex.Unlock()
	}
	return out
}

// AverageResponseTime satisfies strategy.ResponseTimes.
func (r *StatsRegistry) AverageResponseTime(id string) time.Duration {
	return r.Get(id).AverageResponseTime
}
