package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/proxy"
)

const (
	CorrelationHeader = "X-Correlation-ID"
	maxBodyBytes      = 10 << 20
)

// Hop-by-hop headers are never copied back to the client.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

type Route struct {
	Prefix      string
	Service     string
	StripPrefix bool
}

type Forwarder interface {
	Forward(ctx context.Context, serviceName string, req *proxy.Request) (*proxy.Response, error)
}

type GatewayHandler struct {
	logger    *slog.Logger
	forwarder Forwarder
	routes    []Route
}

type errorBody struct {
	Error         string `json:"error"`
	Service       string `json:"service,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// NewGatewayHandler matches routes longest prefix first.
func NewGatewayHandler(logger *slog.Logger, forwarder Forwarder, routes []Route) *GatewayHandler {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &GatewayHandler{
		logger:    logger,
		forwarder: forwarder,
		routes:    sorted,
	}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(CorrelationHeader, correlationID)

	log := h.logger.With(slog.String("correlation_id", correlationID))
	log.Info("Received request",
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("user_agent", r.UserAgent()))

	route, ok := h.match(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, errorBody{Error: "no route for path", CorrelationID: correlationID})
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", CorrelationID: correlationID})
			return
		}
		log.Warn("Failed to read request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, errorBody{Error: "unreadable request body", CorrelationID: correlationID})
		return
	}

	header := r.Header.Clone()
	header.Set(CorrelationHeader, correlationID)

	req := &proxy.Request{
		Method: r.Method,
		Path:   route.targetPath(r.URL.Path),
		Query:  r.URL.Query(),
		Header: header,
		Body:   body,
	}

	start := time.Now()
	resp, err := h.forwarder.Forward(r.Context(), route.Service, req)
	if err != nil {
		status := h.writeForwardError(w, route.Service, correlationID, err)
		log.Warn("Request failed",
			slog.String("service", route.Service),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set(CorrelationHeader, correlationID)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	log.Info("Request completed",
		slog.String("service", route.Service),
		slog.String("instance", resp.Instance.ID),
		slog.Int("status", resp.Status),
		slog.Int("attempts", resp.Attempts),
		slog.Duration("duration", time.Since(start)))
}

func (h *GatewayHandler) match(path string) (Route, bool) {
	for _, route := range h.routes {
		if route.matches(path) {
			return route, true
		}
	}
	return Route{}, false
}

func (rt Route) matches(path string) bool {
	if !strings.HasPrefix(path, rt.Prefix) {
		return false
	}
	return len(path) == len(rt.Prefix) || strings.HasSuffix(rt.Prefix, "/") || path[len(rt.Prefix)] == '/'
}

func (rt Route) targetPath(path string) string {
	if !rt.StripPrefix {
		return path
	}
	trimmed := strings.TrimPrefix(path, rt.Prefix)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}

// writeForwardError maps the forward taxonomy to a status and returns it.
func (h *GatewayHandler) writeForwardError(w http.ResponseWriter, service, correlationID string, err error) int {
	var (
		upstream    *proxy.UpstreamError
		unavailable *proxy.ServiceUnavailableError
	)

	switch {
	case errors.As(err, &upstream):
		copyHeaders(w.Header(), upstream.Header)
		w.Header().Set(CorrelationHeader, correlationID)
		w.WriteHeader(upstream.Status)
		_, _ = w.Write(upstream.Body)
		return upstream.Status

	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, errorBody{
			Error:         unavailable.Error(),
			Service:       service,
			Reason:        unavailable.Reason,
			CorrelationID: correlationID,
		})
		return http.StatusServiceUnavailable

	case errors.Is(err, discovery.ErrDiscoveryUnavailable):
		writeError(w, http.StatusServiceUnavailable, errorBody{
			Error:         "service discovery unavailable",
			Service:       service,
			CorrelationID: correlationID,
		})
		return http.StatusServiceUnavailable

	default:
		writeError(w, http.StatusBadGateway, errorBody{
			Error:         err.Error(),
			Service:       service,
			CorrelationID: correlationID,
		})
		return http.StatusBadGateway
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
	for _, key := range hopHeaders {
		dst.Del(key)
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
