package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/angeloszaimis/resilient-gateway/internal/discovery"
	"github.com/angeloszaimis/resilient-gateway/internal/instance"
	"github.com/angeloszaimis/resilient-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/resilient-gateway/internal/metrics"
	"github.com/angeloszaimis/resilient-gateway/internal/retry"
)

const (
	DefaultCallTimeout = 5 * time.Second
	tracerName         = "github.com/angeloszaimis/resilient-gateway/internal/proxy"
)

// DefaultForwardHeaders is the request header allowlist.
var DefaultForwardHeaders = []string{"authorization", "content-type", "user-agent", "x-correlation-id"}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Instance instance.ServiceInstance
	Attempts int
}

type InstanceSource interface {
	GetInstances(ctx context.Context, serviceName string) ([]instance.ServiceInstance, error)
}

type Breakers interface {
	IsOpen(name string) bool
	IsTripped(name string) bool
	RecordSuccess(name string)
	RecordFailure(name string)
}

type Balancer interface {
	SelectInstance(serviceName string, instances []instance.ServiceInstance) (instance.ServiceInstance, error)
	RecordSuccess(inst instance.ServiceInstance, responseTime time.Duration)
	RecordFailure(inst instance.ServiceInstance)
}

type EventSink interface {
	Emit(metrics.MetricEvent)
}

type Config struct {
	CallTimeout    time.Duration
	ForwardHeaders []string
	// CheckBreaker aborts a retry sequence once the service's breaker has
	// been opened by concurrent traffic.
	CheckBreaker bool
}

type Forwarder struct {
	instances InstanceSource
	breakers  Breakers
	balancer  Balancer
	executor  *retry.Executor

	client         *http.Client
	forwardHeaders []string
	checkBreaker   bool

	events EventSink
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Forwarder)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

func WithEvents(sink EventSink) Option {
	return func(f *Forwarder) {
		f.events = sink
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(f *Forwarder) {
		f.tracer = tracer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Forwarder) {
		f.now = now
	}
}

func NewForwarder(instances InstanceSource, breakers Breakers, balancer Balancer, executor *retry.Executor, cfg Config, opts ...Option) *Forwarder {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	headers := cfg.ForwardHeaders
	if len(headers) == 0 {
		headers = DefaultForwardHeaders
	}

	f := &Forwarder{
		instances:      instances,
		breakers:       breakers,
		balancer:       balancer,
		executor:       executor,
		client:         &http.Client{Timeout: cfg.CallTimeout},
		forwardHeaders: canonicalHeaders(headers),
		checkBreaker:   cfg.CheckBreaker,
		events:         noopSink{},
		tracer:         otel.Tracer(tracerName),
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends req to an instance of serviceName. Once an instance is
// picked, the retry sequence runs to completion even if ctx is cancelled.
func (f *Forwarder) Forward(ctx context.Context, serviceName string, req *Request) (*Response, error) {
	ctx, span := f.tracer.Start(ctx, "proxy.Forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", serviceName),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	start := f.now()
	resp, target, err := f.forward(ctx, span, serviceName, req)
	elapsed := f.now().Sub(start)

	event := metrics.MetricEvent{
		Type:     metrics.EventForwardCompleted,
		Service:  serviceName,
		Instance: target.ID,
		Duration: elapsed,
		Outcome:  outcomeOf(err),
	}

	var upstream *UpstreamError
	switch {
	case err == nil:
		event.StatusCode = resp.Status
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	case errors.As(err, &upstream):
		event.StatusCode = upstream.Status
		span.SetAttributes(attribute.Int("http.response.status_code", upstream.Status))
		span.SetStatus(codes.Error, err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	f.events.Emit(event)

	return resp, err
}

func (f *Forwarder) forward(ctx context.Context, span trace.Span, serviceName string, req *Request) (*Response, instance.ServiceInstance, error) {
	var none instance.ServiceInstance

	instances, err := f.instances.GetInstances(ctx, serviceName)
	if err != nil {
		return nil, none, err
	}
	if len(instances) == 0 {
		return nil, none, &ServiceUnavailableError{Service: serviceName, Reason: ReasonNoInstances}
	}
	// IsOpen may admit this caller as the half-open probe, so nothing may
	// return between it and the call without recording an outcome.
	if len(instance.FilterHealthy(instances)) == 0 {
		return nil, none, &ServiceUnavailableError{
			Service: serviceName,
			Reason:  ReasonNoHealthyInstances,
			Cause:   loadbalancer.ErrNoHealthyInstances,
		}
	}

	if f.breakers.IsOpen(serviceName) {
		span.AddEvent("circuit open")
		f.events.Emit(metrics.MetricEvent{Type: metrics.EventCircuitRejected, Service: serviceName})
		f.logger.Warn("request rejected by open circuit", slog.String("service", serviceName))
		return nil, none, &ServiceUnavailableError{Service: serviceName, Reason: ReasonCircuitOpen}
	}

	target, err := f.balancer.SelectInstance(serviceName, instances)
	if err != nil {
		return nil, none, &ServiceUnavailableError{Service: serviceName, Reason: ReasonNoHealthyInstances, Cause: err}
	}
	span.SetAttributes(
		attribute.String("gateway.instance.id", target.ID),
		attribute.String("server.address", target.Address()))
	f.events.Emit(metrics.MetricEvent{Type: metrics.EventInstanceSelected, Service: serviceName, Instance: target.ID})

	opts := &retry.Options{
		ShouldRetry: Retryable,
		OnRetry: func(rc retry.Context, err error) {
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", rc.Attempt),
				attribute.String("delay", rc.NextRetryDelay.String())))
			f.events.Emit(metrics.MetricEvent{Type: metrics.EventRetryScheduled, Service: serviceName, Attempt: rc.Attempt})
		},
	}
	if f.checkBreaker {
		opts.Abort = func() bool { return f.breakers.IsTripped(serviceName) }
	}

	callCtx := context.WithoutCancel(ctx)
	attempts := 0
	var latency time.Duration

	resp, err := retry.Execute(callCtx, f.executor, serviceName, func() (*Response, error) {
		attempts++
		callStart := f.now()
		resp, err := f.call(callCtx, target, req)
		latency = f.now().Sub(callStart)
		return resp, err
	}, opts)

	if err != nil {
		f.breakers.RecordFailure(serviceName)
		f.balancer.RecordFailure(target)

		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			return nil, target, err
		}

		f.logger.Error("instance unreachable",
			slog.String("service", serviceName),
			slog.String("instance", target.ID),
			slog.String("address", target.Address()),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return nil, target, &ServiceUnavailableError{
			Service: serviceName,
			Reason:  ReasonUnreachable,
			Addr:    target.Address(),
			Cause:   err,
		}
	}

	f.breakers.RecordSuccess(serviceName)
	f.balancer.RecordSuccess(target, latency)

	resp.Instance = target
	resp.Attempts = attempts
	return resp, target, nil
}

func (f *Forwarder) call(ctx context.Context, target instance.ServiceInstance, req *Request) (*Response, error) {
	addr := target.Address()
	u := url.URL{Scheme: "http", Host: addr, Path: req.Path}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for _, key := range f.forwardHeaders {
		for _, v := range req.Header.Values(key) {
			httpReq.Header.Add(key, v)
		}
	}

	res, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Cause: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Cause: err}
	}

	if res.StatusCode >= http.StatusBadRequest {
		return nil, &UpstreamError{Status: res.StatusCode, Header: res.Header, Body: payload}
	}

	return &Response{Status: res.StatusCode, Header: res.Header, Body: payload}, nil
}

func outcomeOf(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &upstream):
		return metrics.OutcomeUpstreamError
	case errors.Is(err, discovery.ErrDiscoveryUnavailable):
		return metrics.OutcomeDiscoveryUnavailable
	default:
		return metrics.OutcomeServiceUnavailable
	}
}

func canonicalHeaders(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, http.CanonicalHeaderKey(k))
	}
	return out
}

type noopSink struct{}

func (noopSink) Emit(metrics.MetricEvent) {}
