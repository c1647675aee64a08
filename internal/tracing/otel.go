package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used by nocl components
const (
	TracerMemory     = "nocl.memory"
	TracerCompressor = "nocl.compressor"
	TracerAgent      = "nocl.agent"
	TracerSession    = "nocl.session"
)

type providerOptions struct {
	version    string
	ratio      float64
	processors []sdktrace.SpanProcessor
}

// Option customizes the tracer provider installed by InitOpenTelemetry
type Option func(*providerOptions)

// WithServiceVersion tags every span with the running version
func WithServiceVersion(v string) Option {
	return func(o *providerOptions) { o.version = v }
}

// WithSampleRatio records the given fraction of root traces. Values
// outside [0,1] are clamped.
func WithSampleRatio(r float64) Option {
	return func(o *providerOptions) {
		switch {
		case r < 0:
			r = 0
		case r > 1:
			r = 1
		}
		o.ratio = r
	}
}

// WithSpanProcessor attaches an exporter pipeline to the provider
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *providerOptions) { o.processors = append(o.processors, p) }
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a process-wide tracer provider for
// serviceName. A provider installed by an earlier call is shut down.
func InitOpenTelemetry(serviceName string, opts ...Option) error {
	o := providerOptions{ratio: 1}
	for _, opt := range opts {
		opt(&o)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if o.version != "" {
		attrs = append(attrs, semconv.ServiceVersion(o.version))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.ratio))),
		sdktrace.WithResource(res),
	}
	for _, p := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	providerMu.Lock()
	prev := provider
	provider = tp
	providerMu.Unlock()

	otel.SetTracerProvider(tp)
	if prev != nil {
		_ = prev.Shutdown(context.Background())
	}
	return nil
}

// ShutdownOpenTelemetry flushes pending spans and uninstalls the provider
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and records its trace id in the nocl trace
// context when the caller has none yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}

// FailSpan records err on span and marks it failed. A nil err is ignored.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
