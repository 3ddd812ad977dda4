package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/resilient-gateway/config"
	"github.com/angeloszaimis/resilient-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/discovery/consul"
	"github.com/angeloszaimis/resilient-gateway/internal/discovery/static"
	"github.com/angeloszaimis/resilient-gateway/internal/handler"
	"github.com/angeloszaimis/resilient-gateway/internal/healthcheck"
	"github.com/angeloszaimis/resilient-gateway/internal/instance"
	"github.com/angeloszaimis/resilient-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/resilient-gateway/internal/metrics"
	"github.com/angeloszaimis/resilient-gateway/internal/proxy"
	"github.com/angeloszaimis/resilient-gateway/internal/retry"
	"github.com/angeloszaimis/resilient-gateway/internal/strategy"
	"github.com/angeloszaimis/resilient-gateway/pkg/logger"
)

type gateway struct {
	cache  *discovery.Cache
	router *http.ServeMux
}

func newGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gateway, error) {
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, logger.Component(log, "metrics"))
	collector.Start(ctx)

	backend, err := initializeDiscovery(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	cache := discovery.NewCache(backend, discovery.WithLogger(logger.Component(log, "discovery")))
	cache.AddListener(func(e discovery.ChangeEvent) {
		collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventInstancesChanged,
			Service: e.Service,
			Change:  string(e.Type),
			Count:   len(e.Instances),
		})
	})

	if err := cache.Bootstrap(ctx); err != nil {
		// Lookups fetch lazily, so a partial warm-up is not fatal.
		log.Warn("Discovery bootstrap incomplete", slog.Any("err", err))
	}

	breakers := circuitbreaker.NewRegistry(
		cfg.CircuitBreaker.FailureThreshold,
		config.Duration(cfg.CircuitBreaker.ResetTimeout),
		circuitbreaker.WithLogger(logger.Component(log, "circuitbreaker")),
		circuitbreaker.WithStateChangeHook(func(t circuitbreaker.Transition) {
			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventBreakerTransition,
				Service: t.Name,
				From:    t.From.String(),
				To:      t.To.String(),
			})
		}),
	)

	stats := loadbalancer.NewStatsRegistry()
	strat := createStrategy(log, cfg.Strategy.Type, stats)
	balancer := loadbalancer.NewLoadBalancer(strat, stats)

	executor := retry.NewExecutor(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   config.Duration(cfg.Retry.BaseDelay),
		MaxJitter:   config.Duration(cfg.Retry.MaxJitter),
	}, retry.WithLogger(logger.Component(log, "retry")))

	forwarder := proxy.NewForwarder(cache, breakers, balancer, executor,
		proxy.Config{
			CallTimeout:    config.Duration(cfg.Proxy.CallTimeout),
			ForwardHeaders: cfg.Proxy.ForwardHeaders,
			CheckBreaker:   cfg.Retry.CheckBreaker,
		},
		proxy.WithEvents(collector),
		proxy.WithLogger(logger.Component(log, "proxy")))

	gatewayHandler := handler.NewGatewayHandler(logger.Component(log, "handler"), forwarder, routes(cfg))
	adminHandler := handler.NewAdminHandler(logger.Component(log, "admin"), breakers, cache, balancer)

	return &gateway{
		cache:  cache,
		router: setupRouter(gatewayHandler, adminHandler, collector, cfg.Strategy.Type),
	}, nil
}

func (g *gateway) Router() http.Handler {
	return g.router
}

func (g *gateway) Close() {
	g.cache.Close()
}

func initializeDiscovery(ctx context.Context, cfg *config.Config, log *slog.Logger) (discovery.Backend, error) {
	switch cfg.Discovery.Provider {
	case config.ProviderConsul:
		c := cfg.Discovery.Consul
		backend, err := consul.New(consul.Config{
			Address:          c.Address,
			Scheme:           c.Scheme,
			Datacenter:       c.Datacenter,
			Token:            c.Token,
			WaitTime:         config.Duration(c.WaitTime),
			MaxWatchFailures: c.MaxWatchFailures,
		}, logger.Component(log, "consul"))
		if err != nil {
			return nil, fmt.Errorf("consul discovery: %w", err)
		}
		return backend, nil

	case config.ProviderStatic:
		services := staticServices(cfg.Discovery.Static)
		backend := static.New(services)

		if interval := config.Duration(cfg.Discovery.Static.HealthCheckInterval); interval > 0 {
			checkCfg := healthcheck.Config{
				Interval: interval,
				Path:     cfg.Discovery.Static.HealthPath,
			}
			checkLog := logger.Component(log, "healthcheck")
			for _, instances := range services {
				healthcheck.Start(ctx, instances, checkCfg, backend, checkLog)
			}
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown discovery provider %q", cfg.Discovery.Provider)
	}
}

func staticServices(cfg config.StaticConfig) map[string][]instance.ServiceInstance {
	services := make(map[string][]instance.ServiceInstance, len(cfg.Services))
	for _, svc := range cfg.Services {
		instances := make([]instance.ServiceInstance, 0, len(svc.Instances))
		for _, ic := range svc.Instances {
			status := instance.StatusHealthy
			if ic.Healthy != nil && !*ic.Healthy {
				status = instance.StatusUnhealthy
			}
			instances = append(instances, instance.ServiceInstance{
				ID:       ic.ID,
				Name:     svc.Name,
				Host:     ic.Host,
				Port:     ic.Port,
				Status:   status,
				Metadata: ic.Metadata,
			})
		}
		services[svc.Name] = instances
	}
	return services
}

func createStrategy(log *slog.Logger, strategyType string, times strategy.ResponseTimes) strategy.Strategy {
	switch strategyType {
	case strategy.TypeRoundRobin:
		return strategy.NewRoundRobinStrategy()
	case strategy.TypeRandom:
		return strategy.NewRandomStrategy()
	case strategy.TypeLeastResponse:
		return strategy.NewLeastResponseStrategy(times)
	default:
		log.Warn("Unknown strategy, defaulting to round-robin", slog.String("requested", strategyType))
		return strategy.NewRoundRobinStrategy()
	}
}

func routes(cfg *config.Config) []handler.Route {
	out := make([]handler.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		out = append(out, handler.Route{Prefix: r.Prefix, Service: r.Service, StripPrefix: r.StripPrefix})
	}
	return out
}

// writeTimeout covers the worst-case retry sequence of one request plus
// a margin for writing the response.
func writeTimeout(cfg *config.Config) time.Duration {
	attempts := cfg.Retry.MaxAttempts
	call := config.Duration(cfg.Proxy.CallTimeout)
	base := config.Duration(cfg.Retry.BaseDelay)
	jitter := config.Duration(cfg.Retry.MaxJitter)

	var budget time.Duration
	for k := 1; k <= attempts; k++ {
		budget = retry.SaturatingAdd(budget, call)
		if k < attempts {
			budget = retry.SaturatingAdd(budget, retry.SaturatingAdd(retry.ExponentialDelay(base, k), jitter))
		}
	}
	return retry.SaturatingAdd(budget, 10*time.Second)
}
