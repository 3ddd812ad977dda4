package retry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilient-gateway/internal/retry"
)

var errTransient = errors.New("connection refused")

var _ = Describe("Executor", func() {
	var (
		delays []time.Duration
		exec   *retry.Executor
		quiet  = slog.New(slog.NewTextHandler(io.Discard, nil))
	)

	recordSleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	BeforeEach(func() {
		delays = nil
		exec = retry.NewExecutor(retry.DefaultConfig(),
			retry.WithSleep(recordSleep),
			retry.WithLogger(quiet))
	})

	Describe("Execute", func() {
		It("should return the first success without waiting", func() {
			calls := 0
			out, err := retry.Execute(context.Background(), exec, "orders", func() (string, error) {
				calls++
				return "ok", nil
			}, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("ok"))
			Expect(calls).To(Equal(1))
			Expect(delays).To(BeEmpty())
		})

		It("should succeed after transient failures", func() {
			calls := 0
			out, err := retry.Execute(context.Background(), exec, "orders", func() (int, error) {
				calls++
				if calls < 3 {
					return 0, errTransient
				}
				return 42, nil
			}, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(42))
			Expect(calls).To(Equal(3))
			Expect(delays).To(HaveLen(2))
		})

		It("should invoke an always-failing operation exactly maxAttempts times", func() {
			calls := 0
			_, err := retry.Execute(context.Background(), exec, "orders", func() (int, error) {
				calls++
				return 0, errTransient
			}, nil)

			Expect(err).To(MatchError(errTransient))
			Expect(calls).To(Equal(3))
			Expect(delays).To(HaveLen(2))
		})

		It("should wait at least baseDelay * 2^(k-2) before attempt k", func() {
			exec = retry.NewExecutor(retry.Config{MaxAttempts: 5, BaseDelay: time.Second, MaxJitter: 100 * time.Millisecond},
				retry.WithSleep(recordSleep),
				retry.WithLogger(quiet))

			_, _ = retry.Execute(context.Background(), exec, "orders", func() (int, error) {
				return 0, errTransient
			}, nil)

			Expect(delays).To(HaveLen(4))
			for i, d := range delays {
				k := i + 2
				floor := time.Second << (k - 2)
				Expect(d).To(BeNumerically(">=", floor))
				Expect(d).To(BeNumerically("<", floor+100*time.Millisecond))
			}
		})

		It("should not retry errors the policy rejects", func() {
			permanent := errors.New("bad request")
			calls := 0
			_, err := retry.Execute(context.Background(), exec, "orders", func() (int, error) {
				calls++
				return 0, permanent
			}, &retry.Options{ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) }})

			Expect(err).To(MatchError(permanent))
			Expect(calls).To(Equal(1))
			Expect(delays).To(BeEmpty())
		})

		It("should stop when the abort check fires", func() {
			calls := 0
			_, err := retry.Execute(context.Background(), exec, "orders", func() (int, error) {
				calls++
				return 0, errTransient
			}, &retry.Options{Abort: func() bool { return calls >= 2 }})

			Expect(err).To(MatchError(errTransient))
			Expect(calls).To(Equal(2))
		})

		It("should report each retry with its context", func() {
			var seen []retry.Context
			_, _ = retry.Execute(context.Background(), exec, "orders", func() (int, error) {
				return 0, errTransient
			}, &retry.Options{OnRetry: func(rc retry.Context, _ error) { seen = append(seen, rc) }})

			Expect(seen).To(HaveLen(2))
			Expect(seen[0].Attempt).To(Equal(1))
			Expect(seen[1].Attempt).To(Equal(2))
			Expect(seen[1].NextRetryDelay).To(BeNumerically(">=", 2*time.Second))
			Expect(seen[0].StartTime).To(Equal(seen[1].StartTime))
		})

		It("should stop waiting when the context is cancelled", func() {
			exec = retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: time.Hour},
				retry.WithLogger(quiet))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			calls := 0
			_, err := retry.Execute(ctx, exec, "orders", func() (int, error) {
				calls++
				return 0, errTransient
			}, nil)

			Expect(err).To(MatchError(context.Canceled))
			Expect(calls).To(Equal(1))
		})
	})

	Describe("Backoff", func() {
		It("should double per attempt with no ceiling", func() {
			exec = retry.NewExecutor(retry.Config{MaxAttempts: 20, BaseDelay: time.Second},
				retry.WithJitter(func(time.Duration) time.Duration { return 0 }))

			Expect(exec.Backoff(1)).To(Equal(time.Second))
			Expect(exec.Backoff(2)).To(Equal(2 * time.Second))
			Expect(exec.Backoff(11)).To(Equal(1024 * time.Second))
		})

		It("should saturate instead of wrapping for very late attempts", func() {
			exec := retry.NewExecutor(retry.Config{MaxAttempts: 100, BaseDelay: time.Second, MaxJitter: 100 * time.Millisecond},
				retry.WithJitter(func(max time.Duration) time.Duration { return max }))

			Expect(exec.Backoff(34)).To(BeNumerically(">", exec.Backoff(33)))
			for _, attempt := range []int{35, 40, 64, 100} {
				Expect(exec.Backoff(attempt)).To(Equal(retry.MaxDelay), "attempt %d", attempt)
			}
		})
	})

	Describe("NewExecutor", func() {
		It("should fall back to defaults for a zero attempt budget", func() {
			Expect(retry.NewExecutor(retry.Config{}).Config().MaxAttempts).To(Equal(retry.DefaultMaxAttempts))
		})
	})
})
