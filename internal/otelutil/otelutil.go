package otelutil

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "oggstream"

// ErrNoExporter is returned by Init when neither OTLP nor stdout export is
// configured. Callers may ignore it; spans are then dropped by the no-op
// provider.
var ErrNoExporter = errors.New("no OTEL exporter configured: set OGGSTREAM_OTEL_OTLP_ENDPOINT or OGGSTREAM_OTEL_STDOUT=1")

// Settings selects the exporter. Environment variables fill in whatever is
// left empty, see FromEnv.
type Settings struct {
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPHeaders  map[string]string
	Stdout       bool
}

var (
	mu sync.Mutex
	tp *sdktrace.TracerProvider
)

// FromEnv overlays the OGGSTREAM_OTEL_* and standard OTEL_EXPORTER_OTLP_*
// variables on s.
func FromEnv(s Settings) Settings {
	if s.OTLPEndpoint == "" {
		s.OTLPEndpoint = os.Getenv("OGGSTREAM_OTEL_OTLP_ENDPOINT")
	}
	if s.OTLPEndpoint == "" {
		s.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if !s.OTLPInsecure {
		s.OTLPInsecure = truthy(os.Getenv("OGGSTREAM_OTEL_OTLP_INSECURE")) || truthy(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))
	}
	if !s.Stdout {
		s.Stdout = truthy(os.Getenv("OGGSTREAM_OTEL_STDOUT"))
	}
	if s.OTLPHeaders == nil {
		s.OTLPHeaders = parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	return s
}

func truthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true"
}

// parseHeaders reads comma-separated key=val pairs.
func parseHeaders(hdrs string) map[string]string {
	if hdrs == "" {
		return nil
	}
	m := map[string]string{}
	for _, pair := range strings.Split(hdrs, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Init installs a global tracer provider. OTLP/gRPC wins over stdout when
// both are configured.
func Init(ctx context.Context, s Settings) error {
	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String(ServiceName),
	))
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter
	switch {
	case s.OTLPEndpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.OTLPEndpoint)}
		if s.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(s.OTLPHeaders) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(s.OTLPHeaders))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case s.Stdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return ErrNoExporter
	}
	if err != nil {
		return err
	}

	install(sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	))
	return nil
}

func install(p *sdktrace.TracerProvider) {
	mu.Lock()
	tp = p
	mu.Unlock()
	otel.SetTracerProvider(p)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Flush gracefully shuts down the tracer provider, flushing any pending spans.
// It is safe to call multiple times.
func Flush() {
	mu.Lock()
	p := tp
	tp = nil
	mu.Unlock()
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.Shutdown(ctx)
}
