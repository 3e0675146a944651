package otel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	inst := p.Instruments()
	if inst != nil {
		t.Fatalf("expected nil instruments when disabled, got %+v", inst)
	}

	ctx, span := inst.Start(context.Background(), "resolve-image")
	if ctx == nil || span != nil {
		t.Fatal("expected passthrough context and nil span")
	}
	span.End(errors.New("ignored"))
	inst.CacheHit(ctx)
	inst.CacheMiss(ctx)
	inst.BuildFinished(ctx, nil)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestCountersAreSummarizedOnShutdown(t *testing.T) {
	var out bytes.Buffer
	p, err := Setup(context.Background(), Config{Enabled: true, Output: &out})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	inst := p.Instruments()
	ctx, span := inst.Start(context.Background(), "build-image")
	inst.CacheMiss(ctx)
	inst.BuildFinished(ctx, nil)
	inst.BuildFinished(ctx, errors.New("boom"))
	inst.CacheHit(ctx)
	inst.CacheHit(ctx)
	span.End(nil)

	counters, err := p.Counters(context.Background())
	if err != nil {
		t.Fatalf("Counters returned error: %v", err)
	}
	want := map[string]int64{MetricCacheHits: 2, MetricCacheMisses: 1, MetricBuilds: 2}
	for name, value := range want {
		if counters[name] != value {
			t.Fatalf("%s = %d, want %d (all: %v)", name, counters[name], value, counters)
		}
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "at.image_cache.hits=2") || !strings.Contains(text, "at.image_cache.builds=2") {
		t.Fatalf("summary missing counters:\n%s", text)
	}
	if !strings.Contains(text, "build-image") {
		t.Fatalf("expected exported span in output:\n%s", text)
	}
}

func TestEnvBool(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		def  bool
		want bool
	}{
		{"", false, false},
		{"", true, true},
		{"1", false, true},
		{"Yes", false, true},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tc := range cases {
		if got := EnvBool(tc.in, tc.def); got != tc.want {
			t.Fatalf("EnvBool(%q, %v) = %v, want %v", tc.in, tc.def, got, tc.want)
		}
	}
}
