package strategy

import (
	"time"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

const (
	TypeRoundRobin    = "round-robin"
	TypeRandom        = "random"
	TypeLeastResponse = "least-response"
)

// Strategy picks one of the given instances. ok is false only when
// instances is empty.
type Strategy interface {
	SelectInstance(serviceName string, instances []instance.ServiceInstance) (chosen instance.ServiceInstance, ok bool)
}

// ResponseTimes exposes the average response time recorded per instance id.
type ResponseTimes interface {
	AverageResponseTime(instanceID string) time.Duration
}
