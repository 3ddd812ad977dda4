package circuitbreaker_test

import (
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilient-gateway/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var (
		registry    *circuitbreaker.Registry
		clock       *fakeClock
		transitions []circuitbreaker.Transition
		mutex       sync.Mutex
	)

	BeforeEach(func() {
		clock = newFakeClock()
		transitions = nil
		registry = circuitbreaker.NewRegistry(5, 60*time.Second,
			circuitbreaker.WithClock(clock.Now),
			circuitbreaker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			circuitbreaker.WithStateChangeHook(func(t circuitbreaker.Transition) {
				mutex.Lock()
				defer mutex.Unlock()
				transitions = append(transitions, t)
			}),
		)
	})

	Describe("GetBreaker", func() {
		It("should return the same breaker for the same service", func() {
			Expect(registry.GetBreaker("orders")).To(BeIdenticalTo(registry.GetBreaker("orders")))
		})

		It("should return different breakers for different services", func() {
			Expect(registry.GetBreaker("orders")).NotTo(BeIdenticalTo(registry.GetBreaker("billing")))
		})
	})

	Describe("GetState", func() {
		It("should lazily create a closed breaker for any name", func() {
			state := registry.GetState("never-seen")
			Expect(state.Status).To(Equal(circuitbreaker.StatusClosed))
			Expect(state.Failures).To(Equal(0))
		})
	})

	Describe("full cycle", func() {
		It("should open, probe and close again", func() {
			for i := 0; i < 5; i++ {
				registry.RecordFailure("orders")
			}
			Expect(registry.IsOpen("orders")).To(BeTrue())

			clock.Advance(61 * time.Second)
			Expect(registry.IsOpen("orders")).To(BeFalse())
			registry.RecordSuccess("orders")
			Expect(registry.GetState("orders").Status).To(Equal(circuitbreaker.StatusClosed))

			Expect(transitions).To(HaveLen(3))
			Expect(transitions[0].To).To(Equal(circuitbreaker.StatusOpen))
			Expect(transitions[1].To).To(Equal(circuitbreaker.StatusHalfOpen))
			Expect(transitions[2].To).To(Equal(circuitbreaker.StatusClosed))
			Expect(transitions[2].Name).To(Equal("orders"))
		})

		It("should keep services independent", func() {
			for i := 0; i < 5; i++ {
				registry.RecordFailure("orders")
			}
			Expect(registry.IsOpen("orders")).To(BeTrue())
			Expect(registry.IsOpen("billing")).To(BeFalse())
		})
	})

	Describe("IsTripped", func() {
		It("should only be true while OPEN", func() {
			Expect(registry.IsTripped("orders")).To(BeFalse())
			for i := 0; i < 5; i++ {
				registry.RecordFailure("orders")
			}
			Expect(registry.IsTripped("orders")).To(BeTrue())
		})
	})

	Describe("Reset", func() {
		It("should force the breaker closed", func() {
			for i := 0; i < 5; i++ {
				registry.RecordFailure("orders")
			}
			registry.Reset("orders")
			Expect(registry.IsOpen("orders")).To(BeFalse())
			Expect(registry.GetState("orders").Failures).To(Equal(0))
		})
	})

	Describe("Concurrent access", func() {
		It("should create a single breaker under concurrent lookups", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					Expect(registry.GetBreaker("orders")).NotTo(BeNil())
				}()
			}
			wg.Wait()

			Expect(registry.Snapshot()).To(HaveLen(1))
		})

		It("should count every concurrent failure", func() {
			registry = circuitbreaker.NewRegistry(1000, time.Minute, circuitbreaker.WithClock(clock.Now))

			var wg sync.WaitGroup
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					registry.RecordFailure("orders")
				}()
			}
			wg.Wait()

			Expect(registry.GetState("orders").Failures).To(Equal(200))
		})
	})

	Describe("Snapshot", func() {
		It("should return the state of all breakers", func() {
			registry.GetBreaker("billing")
			for i := 0; i < 5; i++ {
				registry.RecordFailure("orders")
			}

			stats := registry.Snapshot()
			Expect(stats).To(HaveLen(2))
			Expect(stats["billing"].Status).To(Equal(circuitbreaker.StatusClosed))
			Expect(stats["orders"].Status).To(Equal(circuitbreaker.StatusOpen))
		})
	})
})
