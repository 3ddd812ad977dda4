package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

const (
	defaultBootstrapConcurrency = 8
	defaultFetchTimeout         = 10 * time.Second
)

// Cache holds the last known instance list per service. Cached slices are
// never mutated after they are stored, so callers may read them freely but
// must not modify them.
type Cache struct {
	backend Backend
	logger  *slog.Logger

	mutex   sync.RWMutex
	entries map[string][]instance.ServiceInstance

	watchMutex sync.Mutex
	watching   map[string]Subscription

	listenerMutex sync.RWMutex
	listeners     []Listener

	fetches singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
}

type CacheOption func(*Cache)

func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func NewCache(backend Backend, opts ...CacheOption) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		backend:  backend,
		logger:   slog.Default(),
		entries:  make(map[string][]instance.ServiceInstance),
		watching: make(map[string]Subscription),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers fn for every subsequent change event. Listeners run
// on the watch goroutine and must not block.
func (c *Cache) AddListener(fn Listener) {
	c.listenerMutex.Lock()
	defer c.listenerMutex.Unlock()
	c.listeners = append(c.listeners, fn)
}

// GetInstances returns the cached list, fetching it from the backend and
// starting a watch on a miss. Concurrent misses for the same name share one
// fetch.
func (c *Cache) GetInstances(ctx context.Context, serviceName string) ([]instance.ServiceInstance, error) {
	if instances, ok := c.cached(serviceName); ok {
		return instances, nil
	}

	v, err, _ := c.fetches.Do(serviceName, func() (any, error) {
		if instances, ok := c.cached(serviceName); ok {
			return instances, nil
		}

		// The fetch is shared, so it must outlive the caller that started it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultFetchTimeout)
		defer cancel()

		fetched, err := c.backend.ListInstances(fetchCtx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q: %w", ErrDiscoveryUnavailable, serviceName, err)
		}

		instances := instance.CloneAll(fetched)
		c.mutex.Lock()
		c.entries[serviceName] = instances
		c.mutex.Unlock()

		c.ensureWatch(serviceName)
		return instances, nil
	})
	if err != nil {
		c.logger.Warn("instance lookup failed",
			slog.String("service", serviceName),
			slog.String("error", err.Error()))
		return nil, err
	}

	return v.([]instance.ServiceInstance), nil
}

// OnChange replaces the cached snapshot of serviceName and notifies
// listeners of the difference.
func (c *Cache) OnChange(serviceName string, snapshot []instance.ServiceInstance) {
	next := instance.CloneAll(snapshot)

	c.mutex.Lock()
	previous := c.entries[serviceName]
	c.entries[serviceName] = next
	c.mutex.Unlock()

	events := Diff(serviceName, previous, next)
	if len(events) == 0 {
		return
	}

	c.listenerMutex.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMutex.RUnlock()

	for _, event := range events {
		c.logger.Info("service instances changed",
			slog.String("service", serviceName),
			slog.String("change", string(event.Type)),
			slog.Int("count", len(event.Instances)))

		for _, fn := range listeners {
			fn(event)
		}
	}
}

// Bootstrap fetches and watches every service the backend knows about.
func (c *Cache) Bootstrap(ctx context.Context) error {
	names, err := c.backend.ListServiceNames(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing services: %w", ErrDiscoveryUnavailable, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBootstrapConcurrency)

	for _, name := range names {
		g.Go(func() error {
			if _, err := c.GetInstances(gctx, name); err != nil {
				return err
			}
			c.ensureWatch(name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	c.logger.Info("discovery cache bootstrapped", slog.Int("services", len(names)))
	return nil
}

// Services returns the names currently held in the cache.
func (c *Cache) Services() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}

// IsWatching reports whether a subscription is active for serviceName.
func (c *Cache) IsWatching(serviceName string) bool {
	c.watchMutex.Lock()
	defer c.watchMutex.Unlock()
	_, ok := c.watching[serviceName]
	return ok
}

// Close stops every watch. The cache keeps serving its last snapshots.
func (c *Cache) Close() {
	c.cancel()

	c.watchMutex.Lock()
	subs := c.watching
	c.watching = make(map[string]Subscription)
	c.watchMutex.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}

func (c *Cache) cached(serviceName string) ([]instance.ServiceInstance, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	instances, ok := c.entries[serviceName]
	return instances, ok
}

func (c *Cache) ensureWatch(serviceName string) {
	c.watchMutex.Lock()
	defer c.watchMutex.Unlock()

	if _, ok := c.watching[serviceName]; ok {
		return
	}
	if c.ctx.Err() != nil {
		return
	}

	sub, err := c.backend.Watch(c.ctx, serviceName, func(snapshot []instance.ServiceInstance) {
		c.OnChange(serviceName, snapshot)
	})
	if err != nil {
		c.logger.Error("failed to watch service",
			slog.String("service", serviceName),
			slog.String("error", err.Error()))
		return
	}

	c.watching[serviceName] = sub
	go c.monitor(serviceName, sub)
}

func (c *Cache) monitor(serviceName string, sub Subscription) {
	select {
	case err, ok := <-sub.Err():
		if ok && err != nil {
			c.logger.Error("service watch failed",
				slog.String("service", serviceName),
				slog.String("error", err.Error()))
		}
	case <-c.ctx.Done():
		return
	}

	c.watchMutex.Lock()
	if c.watching[serviceName] == sub {
		delete(c.watching, serviceName)
	}
	c.watchMutex.Unlock()
}
