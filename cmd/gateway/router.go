package main

import (
	"net/http"

	"github.com/angeloszaimis/resilient-gateway/internal/handler"
	"github.com/angeloszaimis/resilient-gateway/internal/metrics"
)

func setupRouter(gatewayHandler *handler.GatewayHandler, adminHandler *handler.AdminHandler, metricsCollector *metrics.Collector, strategy string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", gatewayHandler)
	mux.HandleFunc("GET /metrics", metricsCollector.Handler(strategy))
	mux.Handle("GET /metrics/prometheus", metricsCollector.PrometheusHandler())
	adminHandler.Register(mux)

	return mux
}
