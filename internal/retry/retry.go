package retry

import (
	"context"
	"log/slog"
	"math"
	"math/bits"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1000 * time.Millisecond
	DefaultMaxJitter   = 100 * time.Millisecond

	// MaxDelay is where backoff saturates instead of overflowing.
	MaxDelay = time.Duration(math.MaxInt64)
)

type Config struct {
	// MaxAttempts counts the first call. Default is 3.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt. Default is 1s.
	BaseDelay time.Duration
	// MaxJitter bounds the random delay added to every wait. Default is 100ms.
	MaxJitter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

// Context describes the retry sequence of one forwarded request.
type Context struct {
	Attempt        int
	StartTime      time.Time
	NextRetryDelay time.Duration
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	// ShouldRetry reports whether err is transient. Nil retries everything.
	ShouldRetry func(error) bool
	// Abort is consulted before each retry; returning true ends the
	// sequence with the last error.
	Abort func() bool
	// OnRetry is called after a failed attempt, before the wait.
	OnRetry func(rc Context, err error)
}

type Executor struct {
	config Config
	sleep  SleepFunc
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type ExecutorOption func(*Executor)

func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) {
		e.sleep = fn
	}
}

func WithJitter(fn func(max time.Duration) time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.jitter = fn
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(cfg Config, opts ...ExecutorOption) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}

	e := &Executor{
		config: cfg,
		sleep:  sleepContext,
		jitter: randomJitter,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Config() Config {
	return e.config
}

// Backoff returns the wait after the given failed attempt (1-based).
func (e *Executor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return SaturatingAdd(ExponentialDelay(e.config.BaseDelay, attempt), e.jitter(e.config.MaxJitter))
}

// ExponentialDelay returns base * 2^(attempt-1), or MaxDelay when that does
// not fit in a time.Duration.
func ExponentialDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift >= bits.LeadingZeros64(uint64(base)) {
		return MaxDelay
	}
	return base << shift
}

// SaturatingAdd adds non-negative durations, stopping at MaxDelay.
func SaturatingAdd(a, b time.Duration) time.Duration {
	if a > MaxDelay-b {
		return MaxDelay
	}
	return a + b
}

// Execute calls op until it succeeds, returns a non-retryable error, the
// attempt budget is spent, opts.Abort fires, or ctx is done.
func Execute[T any](ctx context.Context, e *Executor, serviceID string, op func() (T, error), opts *Options) (T, error) {
	var zero T
	if opts == nil {
		opts = &Options{}
	}

	rc := Context{Attempt: 1, StartTime: e.now()}

	for {
		result, err := op()
		if err == nil {
			return result, nil
		}

		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return zero, err
		}

		if rc.Attempt >= e.config.MaxAttempts {
			e.logger.Warn("retries exhausted",
				slog.String("service", serviceID),
				slog.Int("attempts", rc.Attempt),
				slog.Duration("elapsed", e.now().Sub(rc.StartTime)),
				slog.String("error", err.Error()))
			return zero, err
		}

		if opts.Abort != nil && opts.Abort() {
			e.logger.Warn("retry sequence aborted",
				slog.String("service", serviceID),
				slog.Int("attempt", rc.Attempt),
				slog.String("error", err.Error()))
			return zero, err
		}

		rc.NextRetryDelay = e.Backoff(rc.Attempt)

		e.logger.Debug("retrying after failure",
			slog.String("service", serviceID),
			slog.Int("attempt", rc.Attempt),
			slog.Duration("delay", rc.NextRetryDelay),
			slog.String("error", err.Error()))

		if opts.OnRetry != nil {
			opts.OnRetry(rc, err)
		}

		if serr := e.sleep(ctx, rc.NextRetryDelay); serr != nil {
			return zero, serr
		}

		rc.Attempt++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
