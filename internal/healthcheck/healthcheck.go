package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/resilient-gateway/internal/instance"
)

const (
	DefaultPath    = "/health"
	defaultTimeout = 5 * time.Second
)

// StatusSetter records an instance's status and reports whether it changed.
type StatusSetter interface {
	SetStatus(serviceName, id string, status instance.Status) bool
}

type Config struct {
	Interval time.Duration
	Path     string
	Timeout  time.Duration
}

// Probe sends one GET to the instance's health endpoint. Only 200 counts
// as healthy.
func Probe(ctx context.Context, client *http.Client, target instance.ServiceInstance, path string) bool {
	healthURL := url.URL{Scheme: "http", Host: target.Address(), Path: path}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode == http.StatusOK
}

// HealthCheck probes target every interval until ctx is done and pushes the
// result to setter.
func HealthCheck(
	ctx context.Context,
	target instance.ServiceInstance,
	cfg Config,
	setter StatusSetter,
	logger *slog.Logger,
) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("service", target.Name),
				slog.String("instance", target.ID))
			return

		case <-ticker.C:
			healthy := Probe(ctx, client, target, cfg.Path)

			status := instance.StatusUnhealthy
			if healthy {
				status = instance.StatusHealthy
			}

			if setter.SetStatus(target.Name, target.ID, status) {
				if healthy {
					logger.Info("Instance is back up",
						slog.String("service", target.Name),
						slog.String("instance", target.ID),
						slog.String("address", target.Address()))
				} else {
					logger.Warn("Instance is down",
						slog.String("service", target.Name),
						slog.String("instance", target.ID),
						slog.String("address", target.Address()))
				}
			}
		}
	}
}

// Start launches one HealthCheck goroutine per instance.
func Start(ctx context.Context, targets []instance.ServiceInstance, cfg Config, setter StatusSetter, logger *slog.Logger) {
	for _, target := range targets {
		go HealthCheck(ctx, target, cfg, setter, logger)
	}
}
