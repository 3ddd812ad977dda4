package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex     sync.RWMutex
	services  map[string]*serviceMetrics
	startTime time.Time
}

type serviceMetrics struct {
	requests      int64
	retries       int64
	rejections    int64
	transitions   int64
	breakerState  string
	outcomes      map[string]int64
	statusCodes   map[int]int64
	selections    map[string]int64
	responseTimes []time.Duration
	added         int64
	removed       int64
	healthChanged int64
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Uptime        time.Duration             `json:"uptime"`
	Services      map[string]ServiceMetrics `json:"services"`
	Strategy      string                    `json:"strategy"`
	DroppedEvents int64                     `json:"dropped_events"`
}

type ServiceMetrics struct {
	Requests           int64            `json:"requests"`
	Retries            int64            `json:"retries"`
	CircuitRejections  int64            `json:"circuit_rejections"`
	BreakerState       string           `json:"breaker_state,omitempty"`
	BreakerTransitions int64            `json:"breaker_transitions"`
	Outcomes           map[string]int64 `json:"outcomes"`
	StatusCodes        map[int]int64    `json:"status_codes"`
	Selections         map[string]int64 `json:"selections"`
	InstancesAdded     int64            `json:"instances_added"`
	InstancesRemoved   int64            `json:"instances_removed"`
	HealthChanges      int64            `json:"health_changes"`
	AvgResponse        time.Duration    `json:"avg_response"`
	P50Response        time.Duration    `json:"p50_response"`
	P95Response        time.Duration    `json:"p95_response"`
	P99Response        time.Duration    `json:"p99_response"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		services:  make(map[string]*serviceMetrics),
		startTime: time.Now(),
	}
}

// service must be called with the write lock held.
func (m *Metrics) service(name string) *serviceMetrics {
	sm, ok := m.services[name]
	if !ok {
		sm = &serviceMetrics{
			outcomes:    make(map[string]int64),
			statusCodes: make(map[int]int64),
			selections:  make(map[string]int64),
		}
		m.services[name] = sm
	}
	return sm
}

func (m *Metrics) RecordForward(service string, duration time.Duration, statusCode int, outcome string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	sm := m.service(service)
	sm.requests++
	sm.outcomes[outcome]++
	if statusCode > 0 {
		sm.statusCodes[statusCode]++
	}

	if duration > 0 {
		sm.responseTimes = append(sm.responseTimes, duration)
		if len(sm.responseTimes) > maxSamples {
			sm.responseTimes = sm.responseTimes[1:]
		}
	}
}

func (m *Metrics) RecordSelection(service, instanceID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).selections[instanceID]++
}

func (m *Metrics) RecordRetry(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).retries++
}

func (m *Metrics) RecordRejection(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).rejections++
}

func (m *Metrics) RecordTransition(service, to string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	sm := m.service(service)
	sm.transitions++
	sm.breakerState = to
}

func (m *Metrics) RecordDiscoveryChange(service, change string, count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	sm := m.service(service)
	switch change {
	case "added":
		sm.added += int64(count)
	case "removed":
		sm.removed += int64(count)
	case "health_changed":
		sm.healthChanged += int64(count)
	}
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Services: make(map[string]ServiceMetrics, len(m.services)),
		Strategy: strategy,
	}

	for name, sm := range m.services {
		snap.TotalRequests += sm.requests

		out := ServiceMetrics{
			Requests:           sm.requests,
			Retries:            sm.retries,
			CircuitRejections:  sm.rejections,
			BreakerState:       sm.breakerState,
			BreakerTransitions: sm.transitions,
			Outcomes:           copyCounts(sm.outcomes),
			StatusCodes:        copyCounts(sm.statusCodes),
			Selections:         copyCounts(sm.selections),
			InstancesAdded:     sm.added,
			InstancesRemoved:   sm.removed,
			HealthChanges:      sm.healthChanged,
		}

		if len(sm.responseTimes) > 0 {
			sorted := make([]time.Duration, len(sm.responseTimes))
			copy(sorted, sm.responseTimes)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			out.AvgResponse = average(sorted)
			out.P50Response = percentile(sorted, 0.50)
			out.P95Response = percentile(sorted, 0.95)
			out.P99Response = percentile(sorted, 0.99)
		}

		snap.Services[name] = out
	}

	return snap
}

func copyCounts[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
