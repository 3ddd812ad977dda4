package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

type randomStrategy struct{}

func (r *randomStrategy) SelectInstance(_ string, instances []instance.ServiceInstance) (instance.ServiceInstance, bool) {
	if len(instances) == 0 {
		return instance.ServiceInstance{}, false
	}

	index := rand.IntN(len(instances))
	return instances[index], true
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
