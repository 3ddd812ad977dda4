package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilient-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/discovery/static"
	"github.com/angeloszaimis/resilient-gateway/internal/handler"
	"github.com/angeloszaimis/resilient-gateway/internal/instance"
	"github.com/angeloszaimis/resilient-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/resilient-gateway/internal/strategy"
)

var _ = Describe("AdminHandler", func() {
	var (
		mux      *http.ServeMux
		breakers *circuitbreaker.Registry
		balancer *loadbalancer.LoadBalancer
		cache    *discovery.Cache
	)

	BeforeEach(func() {
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		breakers = circuitbreaker.NewRegistry(2, time.Minute, circuitbreaker.WithLogger(quiet))
		balancer = loadbalancer.NewLoadBalancer(strategy.NewRoundRobinStrategy(), nil)
		cache = discovery.NewCache(static.New(map[string][]instance.ServiceInstance{
			"orders": {{ID: "orders-1", Host: "10.0.0.1", Port: 8080, Status: instance.StatusHealthy}},
		}), discovery.WithLogger(quiet))

		mux = http.NewServeMux()
		handler.NewAdminHandler(quiet, breakers, cache, balancer).Register(mux)
	})

	AfterEach(func() {
		cache.Close()
	})

	do := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
		return rec
	}

	It("should list breaker states", func() {
		breakers.RecordFailure("orders")
		breakers.RecordFailure("orders")

		rec := do(http.MethodGet, "/admin/breakers")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var states map[string]struct {
			Failures int    `json:"failures"`
			Status   string `json:"status"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &states)).To(Succeed())
		Expect(states["orders"].Status).To(Equal("OPEN"))
		Expect(states["orders"].Failures).To(Equal(2))
	})

	It("should reset a breaker", func() {
		breakers.RecordFailure("orders")
		breakers.RecordFailure("orders")

		rec := do(http.MethodPost, "/admin/breakers/orders/reset")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(breakers.GetState("orders").Status).To(Equal(circuitbreaker.StatusClosed))
	})

	It("should reject reset with the wrong method", func() {
		rec := do(http.MethodGet, "/admin/breakers/orders/reset")
		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("should show cached instances with their stats", func() {
		balancer.RecordSuccess(instance.ServiceInstance{ID: "orders-1"}, 30*time.Millisecond)

		rec := do(http.MethodGet, "/admin/instances/orders")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var view struct {
			Service   string `json:"service"`
			Instances []struct {
				ID    string `json:"id"`
				Stats struct {
					SuccessfulRequests int64 `json:"successful_requests"`
				} `json:"stats"`
			} `json:"instances"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
		Expect(view.Service).To(Equal("orders"))
		Expect(view.Instances).To(HaveLen(1))
		Expect(view.Instances[0].ID).To(Equal("orders-1"))
		Expect(view.Instances[0].Stats.SuccessfulRequests).To(Equal(int64(1)))
	})

	It("should report discovery outages as 503", func() {
		failing := handler.NewAdminHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), breakers,
			sourceFunc(func(context.Context, string) ([]instance.ServiceInstance, error) {
				return nil, discovery.ErrDiscoveryUnavailable
			}), balancer)
		mux = http.NewServeMux()
		failing.Register(mux)

		rec := do(http.MethodGet, "/admin/instances/orders")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})

type sourceFunc func(ctx context.Context, name string) ([]instance.ServiceInstance, error)

func (f sourceFunc) GetInstances(ctx context.Context, name string) ([]instance.ServiceInstance, error) {
	return f(ctx, name)
}
