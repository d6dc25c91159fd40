// Package observability wires OpenTelemetry tracing and metrics for the
// pipeline. Every stage (build, baseline, execute, prove, verify, persist)
// runs inside TrackOperation, which opens a span and records RED metrics.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Real-JW/zkbench/pkg/zkerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/Real-JW/zkbench"

// Attribute keys attached to stage spans and metrics.
const (
	AttrStage     = attribute.Key("zkbench.stage")
	AttrWorkload  = attribute.Key("zkbench.workload")
	AttrImageID   = attribute.Key("zkbench.image_id")
	AttrRunID     = attribute.Key("zkbench.run_id")
	AttrErrorKind = attribute.Key("zkbench.error.kind")
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"` // host:port, gRPC
	SampleRate     float64       `yaml:"sample_rate"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MetricInterval time.Duration `yaml:"metric_interval"`
	Enabled        bool          `yaml:"enabled"`
	Insecure       bool          `yaml:"insecure"`
}

// DefaultConfig returns a disabled configuration with local collector
// defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "zkbench",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
	}
}

// Provider owns the tracer, the meter and the pipeline instruments.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	stageTotal    metric.Int64Counter
	stageErrors   metric.Int64Counter
	stageDuration metric.Float64Histogram
	stageActive   metric.Int64UpDownCounter
	steps         metric.Int64Histogram
	proveAttempts metric.Int64Counter
}

// New creates a provider. A disabled config yields no-op instruments and
// never dials the collector.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	logger := slog.Default().With("component", "observability")

	if !config.Enabled {
		logger.DebugContext(ctx, "observability disabled")
		return NewWithProviders(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, config, res)
	if err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, config, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p, err := NewWithProviders(tp, mp)
	if err != nil {
		return nil, err
	}
	p.tracerProvider = tp
	p.meterProvider = mp

	logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithProviders builds instruments on existing providers. The caller
// keeps ownership of them.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
	}
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}
	return p, nil
}

// Noop returns a provider that records nothing.
func Noop() *Provider {
	p, err := NewWithProviders(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		// No-op instruments cannot fail to register.
		panic(err)
	}
	return p
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.stageTotal, err = p.meter.Int64Counter("zkbench.stage.total",
		metric.WithDescription("Pipeline stages started"),
		metric.WithUnit("{stage}"),
	); err != nil {
		return err
	}
	if p.stageErrors, err = p.meter.Int64Counter("zkbench.stage.errors",
		metric.WithDescription("Pipeline stages that failed"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.stageDuration, err = p.meter.Float64Histogram("zkbench.stage.duration",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	); err != nil {
		return err
	}
	if p.stageActive, err = p.meter.Int64UpDownCounter("zkbench.stage.active",
		metric.WithDescription("Pipeline stages in flight"),
		metric.WithUnit("{stage}"),
	); err != nil {
		return err
	}
	if p.steps, err = p.meter.Int64Histogram("zkbench.execute.steps",
		metric.WithDescription("Trace steps per execution"),
		metric.WithUnit("{step}"),
	); err != nil {
		return err
	}
	p.proveAttempts, err = p.meter.Int64Counter("zkbench.prove.attempts",
		metric.WithDescription("Prover invocations, including retries"),
		metric.WithUnit("{attempt}"),
	)
	return err
}

// Shutdown flushes pending spans and metrics and stops providers created
// by New. Both providers are stopped even if the first fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// TrackOperation starts a span for one pipeline stage and returns the
// function that ends it. Failures are counted by error kind.
func (p *Provider) TrackOperation(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{AttrStage.String(stage)}, attrs...)
	set := metric.WithAttributes(attrs...)

	ctx, span := p.tracer.Start(ctx, "zkbench."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.stageActive.Add(ctx, 1, set)
	p.stageTotal.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.stageActive.Add(ctx, -1, set)
		p.stageDuration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			kind := string(zkerr.KindOf(err))
			if kind == "" {
				kind = string(zkerr.KindInternal)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			p.stageErrors.Add(ctx, 1, metric.WithAttributes(append(attrs, AttrErrorKind.String(kind))...))
		}
		span.End()
	}
}

// RecordSteps records the trace length of one execution.
func (p *Provider) RecordSteps(ctx context.Context, steps uint64, attrs ...attribute.KeyValue) {
	p.steps.Record(ctx, int64(steps), metric.WithAttributes(attrs...)) //nolint:gosec // step ceilings are far below 2^63
}

// RecordProveAttempts counts prover invocations for one run.
func (p *Provider) RecordProveAttempts(ctx context.Context, attempts int, attrs ...attribute.KeyValue) {
	p.proveAttempts.Add(ctx, int64(attempts), metric.WithAttributes(attrs...))
}
