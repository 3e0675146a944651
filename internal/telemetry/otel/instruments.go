package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Counter names recorded by the image cache.
const (
	MetricCacheHits   = "at.image_cache.hits"
	MetricCacheMisses = "at.image_cache.misses"
	MetricBuilds      = "at.image_cache.builds"
)

// Instruments publishes spans for the pipeline stages and the image cache
// counters. A nil *Instruments is valid and records nothing.
type Instruments struct {
	tracer trace.Tracer
	hits   metric.Int64Counter
	misses metric.Int64Counter
	builds metric.Int64Counter
}

func newInstruments(meter metric.Meter, tracer trace.Tracer) (*Instruments, error) {
	inst := &Instruments{tracer: tracer}
	var err error
	if inst.hits, err = meter.Int64Counter(MetricCacheHits,
		metric.WithDescription("Runs served by an already built image")); err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricCacheHits, err)
	}
	if inst.misses, err = meter.Int64Counter(MetricCacheMisses,
		metric.WithDescription("Runs that required an image build")); err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricCacheMisses, err)
	}
	if inst.builds, err = meter.Int64Counter(MetricBuilds,
		metric.WithDescription("Image builds attempted, labelled by outcome")); err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricBuilds, err)
	}
	return inst, nil
}

// Span wraps an active span; a nil *Span is a no-op.
type Span struct {
	span trace.Span
}

// Start opens a span named name under ctx.
func (i *Instruments) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	if i == nil || i.tracer == nil {
		return ctx, nil
	}
	ctx, span := i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// SetAttributes adds attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// End finishes the span, marking it failed when err is non-nil.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// CacheHit counts a lookup that found a usable image.
func (i *Instruments) CacheHit(ctx context.Context) {
	if i == nil {
		return
	}
	i.hits.Add(ctx, 1)
}

// CacheMiss counts a lookup that found no usable image.
func (i *Instruments) CacheMiss(ctx context.Context) {
	if i == nil {
		return
	}
	i.misses.Add(ctx, 1)
}

// BuildFinished counts one build attempt.
func (i *Instruments) BuildFinished(ctx context.Context, err error) {
	if i == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	i.builds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
