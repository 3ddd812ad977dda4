// Package consul implements discovery.Backend on top of the HashiCorp Consul
// catalog. Instance lists come from the health endpoint with all checks
// included, so failing instances are reported as unhealthy rather than
// dropped. Watches use blocking queries.
package consul

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

const (
	defaultWaitTime         = 30 * time.Second
	defaultRetryInterval    = time.Second
	defaultMaxWatchFailures = 5
)

type Config struct {
	Address    string
	Scheme     string
	Datacenter string
	Token      string
	// WaitTime bounds each blocking query.
	WaitTime time.Duration
	// MaxWatchFailures is the number of consecutive query errors after
	// which a watch gives up and reports a terminal error.
	MaxWatchFailures int
	RetryInterval    time.Duration
}

type Backend struct {
	client *api.Client
	config Config
	logger *slog.Logger
}

var _ discovery.Backend = (*Backend)(nil)

func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		apiCfg.Scheme = cfg.Scheme
	}
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}
	apiCfg.Token = cfg.Token

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	if cfg.WaitTime <= 0 {
		cfg.WaitTime = defaultWaitTime
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxWatchFailures <= 0 {
		cfg.MaxWatchFailures = defaultMaxWatchFailures
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Backend{client: client, config: cfg, logger: logger}, nil
}

// ListServiceNames returns every catalog service except consul itself.
func (b *Backend) ListServiceNames(ctx context.Context) ([]string, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	services, _, err := b.client.Catalog().Services(opts)
	if err != nil {
		return nil, fmt.Errorf("consul list services: %w", err)
	}

	names := make([]string, 0, len(services))
	for name := range services {
		if name == "consul" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) ListInstances(ctx context.Context, serviceName string) ([]instance.ServiceInstance, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := b.client.Health().Service(serviceName, "", false, opts)
	if err != nil {
		return nil, fmt.Errorf("consul list instances %q: %w", serviceName, err)
	}
	return toInstances(entries), nil
}

func (b *Backend) Watch(ctx context.Context, serviceName string, onUpdate func([]instance.ServiceInstance)) (discovery.Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		cancel: cancel,
		errCh:  make(chan error, 1),
	}

	go b.watch(watchCtx, serviceName, onUpdate, sub)

	return sub, nil
}

func (b *Backend) watch(ctx context.Context, serviceName string, onUpdate func([]instance.ServiceInstance), sub *subscription) {
	defer close(sub.errCh)

	var (
		lastIndex uint64
		failures  int
	)

	for {
		if ctx.Err() != nil {
			return
		}

		opts := (&api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  b.config.WaitTime,
		}).WithContext(ctx)

		entries, meta, err := b.client.Health().Service(serviceName, "", false, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			failures++
			b.logger.Warn("consul watch error",
				slog.String("service", serviceName),
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()))

			if failures >= b.config.MaxWatchFailures {
				sub.errCh <- fmt.Errorf("consul watch %q: giving up after %d failures: %w", serviceName, failures, err)
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.config.RetryInterval):
			}
			continue
		}
		failures = 0

		if meta.LastIndex == lastIndex {
			continue
		}
		// A lower index means the raft index was reset; start over.
		if meta.LastIndex < lastIndex {
			lastIndex = 0
			continue
		}
		lastIndex = meta.LastIndex

		onUpdate(toInstances(entries))
	}
}

type subscription struct {
	cancel context.CancelFunc
	errCh  chan error
	once   sync.Once
}

func (s *subscription) Stop() {
	s.once.Do(s.cancel)
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

func toInstances(entries []*api.ServiceEntry) []instance.ServiceInstance {
	instances := make([]instance.ServiceInstance, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Service == nil {
			continue
		}
		instances = append(instances, toInstance(e))
	}
	return instances
}

func toInstance(e *api.ServiceEntry) instance.ServiceInstance {
	status := instance.StatusHealthy
	if e.Checks.AggregatedStatus() != api.HealthPassing {
		status = instance.StatusUnhealthy
	}

	host := e.Service.Address
	if host == "" && e.Node != nil {
		host = e.Node.Address
	}

	var meta map[string]string
	if len(e.Service.Meta) > 0 {
		meta = make(map[string]string, len(e.Service.Meta))
		for k, v := range e.Service.Meta {
			meta[k] = v
		}
	}

	return instance.ServiceInstance{
		ID:       e.Service.ID,
		Name:     e.Service.Service,
		Host:     host,
		Port:     e.Service.Port,
		Status:   status,
		Metadata: meta,
	}
}
