package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "github.com/ansible-toolbox/at"

// Config controls exporter behaviour.
type Config struct {
	ServiceName string
	Enabled     bool
	// Output receives spans and the metric summary. Defaults to stderr.
	Output io.Writer
}

// Provider owns the meter and tracer providers and the derived instruments.
type Provider struct {
	cfg            Config
	reader         *sdkmetric.ManualReader
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	instruments    *Instruments
	shutdownOnce   sync.Once
}

// Setup initialises the stdout span exporter and an in-process metric reader.
// A disabled config yields a provider whose instruments are no-ops.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{cfg: cfg}, nil
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "ansible-toolbox"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Output), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("init stdout trace exporter: %w", err)
	}

	p := &Provider{cfg: cfg, reader: sdkmetric.NewManualReader()}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(p.reader),
		sdkmetric.WithResource(res),
	)
	// Spans are exported synchronously; the process is short-lived.
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTracerProvider(p.tracerProvider)

	p.instruments, err = newInstruments(
		p.meterProvider.Meter(instrumentationName),
		p.tracerProvider.Tracer(instrumentationName),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Instruments returns the pipeline instruments, nil when disabled.
func (p *Provider) Instruments() *Instruments {
	if p == nil {
		return nil
	}
	return p.instruments
}

// Shutdown writes the counter summary, then flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var err error
	p.shutdownOnce.Do(func() {
		var errs []error
		if p.reader != nil {
			if summaryErr := p.writeSummary(ctx); summaryErr != nil {
				errs = append(errs, summaryErr)
			}
		}
		if p.meterProvider != nil {
			if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if p.tracerProvider != nil {
			if shutdownErr := p.tracerProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if len(errs) > 0 {
			err = errors.Join(errs...)
		}
	})
	return err
}

// Counters collects the current value of every Int64 sum, keyed by name.
func (p *Provider) Counters(ctx context.Context) (map[string]int64, error) {
	if p == nil || p.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	out := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out[m.Name] = total
		}
	}
	return out, nil
}

func (p *Provider) writeSummary(ctx context.Context) error {
	counters, err := p.Counters(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(p.cfg.Output, "%s=%d\n", name, counters[name])
	}
	return nil
}

// EnvBool interprets ANSIBLE_TOOLBOX_* env toggles.
func EnvBool(value string, defaultOn bool) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "":
		return defaultOn
	case "1", "true", "on", "enable", "enabled", "yes":
		return true
	case "0", "false", "off", "disable", "disabled", "no":
		return false
	default:
		return defaultOn
	}
}

// LoadConfigFromEnv reads the telemetry toggle from the environment.
func LoadConfigFromEnv() Config {
	return Config{
		ServiceName: "ansible-toolbox",
		Enabled:     EnvBool(os.Getenv("ANSIBLE_TOOLBOX_TRACE"), false),
	}
}
