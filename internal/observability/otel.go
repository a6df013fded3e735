// Package observability traces the operator: an OTLP exporter, a resource
// that describes the operator pod, and one span per reconcile pass.
package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vaheed/odoonova/internal/logging"
)

const (
	tracerName       = "github.com/vaheed/odoonova/internal/reconcile"
	serviceName      = "odoonova-operator"
	serviceNamespace = "odoonova"

	SpanReconcile = "odoocluster.reconcile"
)

// Attributes set on reconcile spans.
const (
	AttrCluster         = attribute.Key("odoonova.cluster")
	AttrTenantNamespace = attribute.Key("odoonova.tenant_namespace")
	AttrGeneration      = attribute.Key("odoonova.generation")
	AttrPhase           = attribute.Key("odoonova.phase")
	AttrRequeues        = attribute.Key("odoonova.requeues")
	AttrOutcome         = attribute.Key("odoonova.outcome")
)

// Config holds the exporter settings and the identity of the operator pod.
type Config struct {
	Endpoint       string
	Insecure       bool
	ServiceVersion string
	Environment    string
	// PodNamespace and PodName come from the downward API when deployed.
	PodNamespace string
	PodName      string
}

// SetupOTel installs an OTLP/HTTP trace exporter. Without an endpoint
// tracing stays on the global no-op provider.
func SetupOTel(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noopShutdown, nil
	}
	hostPort, insecure, err := normalizeEndpoint(endpoint)
	if err != nil {
		return noopShutdown, fmt.Errorf("otel endpoint: %w", err)
	}
	insecure = insecure || cfg.Insecure

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(hostPort)}
	if insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	traceExp, err := otlptracehttp.New(setupCtx, clientOpts...)
	if err != nil {
		return noopShutdown, fmt.Errorf("otlp trace exporter: %w", err)
	}
	res, err := resource.New(setupCtx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(resourceAttributes(cfg)...),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logging.L.Info("otel_configured",
		zap.String("endpoint", hostPort),
		zap.Bool("insecure", insecure),
		zap.String("pod", cfg.PodNamespace+"/"+cfg.PodName),
	)
	return tp.Shutdown, nil
}

// resourceAttributes describes the operator process.
func resourceAttributes(cfg Config) []attribute.KeyValue {
	version := strings.TrimSpace(cfg.ServiceVersion)
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceNamespace(serviceNamespace),
		semconv.ServiceVersion(version),
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	if cfg.PodNamespace != "" {
		attrs = append(attrs, semconv.K8SNamespaceName(cfg.PodNamespace))
	}
	if cfg.PodName != "" {
		attrs = append(attrs, semconv.K8SPodName(cfg.PodName), semconv.ServiceInstanceID(cfg.PodName))
	}
	return attrs
}

// Tracer returns the operator tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartReconcile opens the span for one pass over an OdooCluster.
func StartReconcile(ctx context.Context, cluster, tenantNamespace string, requeues int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanReconcile,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrCluster.String(cluster),
			AttrTenantNamespace.String(tenantNamespace),
			AttrRequeues.Int(requeues),
		),
	)
}

// AnnotateCluster adds what is only known once the cluster has been read.
func AnnotateCluster(ctx context.Context, generation int64, phase string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrGeneration.Int64(generation), AttrPhase.String(phase))
}

// EndReconcile records the outcome of the pass and ends span.
func EndReconcile(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func normalizeEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		return u.Host, u.Scheme == "http", nil
	}
	return raw, false, nil
}

func noopShutdown(context.Context) error { return nil }
