package strategy

import (
	"time"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

type leastResponseStrategy struct {
	times ResponseTimes
}

// SelectInstance prefers an instance with no recorded successes yet, so new
// instances get measured, then the lowest average response time.
func (l *leastResponseStrategy) SelectInstance(_ string, instances []instance.ServiceInstance) (instance.ServiceInstance, bool) {
	if len(instances) == 0 {
		return instance.ServiceInstance{}, false
	}

	chosen := instances[0]
	best := time.Duration(-1)

	for _, inst := range instances {
		avg := l.times.AverageResponseTime(inst.ID)

		if avg == 0 {
			return inst, true
		}

		if best < 0 || avg < best {
			chosen = inst
			best = avg
		}
	}

	return chosen, true
}

func NewLeastResponseStrategy(times ResponseTimes) Strategy {
	return &leastResponseStrategy{times: times}
}
