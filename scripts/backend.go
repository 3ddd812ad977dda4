// Backend is a throwaway downstream service for exercising the gateway by
// hand. It serves /health and answers every other path with a JSON order.
//
// Usage:
//
//	go run ./scripts -port 8081 -fail-rate 0.3 -delay 200ms
//
// -fail-rate makes that fraction of requests answer 503 so retries and the
// circuit breaker can be observed. -down makes /health report 503.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID       string `json:"id"`
	Instance string `json:"instance"`
	Path     string `json:"path"`
	Method   string `json:"method"`
	Body     string `json:"body,omitempty"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests answered with 503")
	delay := flag.Duration("delay", 0, "latency added to every request")
	down := flag.Bool("down", false, "report unhealthy on /health")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.Int("port", *port))
	instanceID := fmt.Sprintf("backend-%d", *port)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if *down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("correlation_id", r.Header.Get("X-Correlation-ID")))

		if *delay > 0 {
			time.Sleep(*delay)
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, `{"error":"simulated failure"}`, http.StatusServiceUnavailable)
			return
		}

		order := Order{
			ID:       uuid.NewString(),
			Instance: instanceID,
			Path:     r.URL.Path,
			Method:   r.Method,
			Body:     string(body),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(order)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting backend", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
