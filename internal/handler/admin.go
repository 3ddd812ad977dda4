package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/resilient-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/instance"
	"github.com/angeloszaimis/resilient-gateway/internal/loadbalancer"
)

type BreakerAdmin interface {
	Snapshot() map[string]circuitbreaker.State
	GetState(name string) circuitbreaker.State
	Reset(name string)
}

type InstanceSource interface {
	GetInstances(ctx context.Context, serviceName string) ([]instance.ServiceInstance, error)
}

type StatsSource interface {
	Stats(instanceID string) loadbalancer.Stats
}

// AdminHandler exposes breaker state and the cached instance view.
type AdminHandler struct {
	logger    *slog.Logger
	breakers  BreakerAdmin
	instances InstanceSource
	stats     StatsSource
}

type instanceView struct {
	instance.ServiceInstance
	Stats loadbalancer.Stats `json:"stats"`
}

type serviceView struct {
	Service   string               `json:"service"`
	Breaker   circuitbreaker.State `json:"breaker"`
	Instances []instanceView       `json:"instances"`
}

func NewAdminHandler(logger *slog.Logger, breakers BreakerAdmin, instances InstanceSource, stats StatsSource) *AdminHandler {
	return &AdminHandler{
		logger:    logger,
		breakers:  breakers,
		instances: instances,
		stats:     stats,
	}
}

func (a *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/breakers", a.listBreakers)
	mux.HandleFunc("POST /admin/breakers/{service}/reset", a.resetBreaker)
	mux.HandleFunc("GET /admin/instances/{service}", a.listInstances)
}

func (a *AdminHandler) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.breakers.Snapshot())
}

func (a *AdminHandler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	a.breakers.Reset(service)

	a.logger.Info("circuit breaker reset by operator", slog.String("service", service))
	writeJSON(w, http.StatusOK, a.breakers.GetState(service))
}

func (a *AdminHandler) listInstances(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")

	instances, err := a.instances.GetInstances(r.Context(), service)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, discovery.ErrDiscoveryUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	view := serviceView{
		Service:   service,
		Breaker:   a.breakers.GetState(service),
		Instances: make([]instanceView, 0, len(instances)),
	}
	for _, inst := range instances {
		view.Instances = append(view.Instances, instanceView{
			ServiceInstance: inst,
			Stats:           a.stats.Stats(inst.ID),
		})
	}

	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
