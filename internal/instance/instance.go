package instance

import (
	"net"
	"strconv"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ServiceInstance is one backend endpoint as reported by discovery.
// ID is the identity; uniqueness is the discovery backend's concern.
type ServiceInstance struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Status   Status            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Address returns host:port, bracketing IPv6 hosts.
func (s ServiceInstance) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServiceInstance) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// Clone returns a copy that shares no metadata map with the receiver.
func (s ServiceInstance) Clone() ServiceInstance {
	out := s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CloneAll copies a snapshot so callers can hold it without aliasing.
func CloneAll(instances []ServiceInstance) []ServiceInstance {
	if instances == nil {
		return []ServiceInstance{}
	}
	out := make([]ServiceInstance, len(instances))
	for i, inst := range instances {
		out[i] = inst.Clone()
	}
	return out
}

// FilterHealthy returns the healthy subset, preserving order.
func FilterHealthy(instances []ServiceInstance) []ServiceInstance {
	healthy := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.IsHealthy() {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}
