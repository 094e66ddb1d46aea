// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package observability emits spans, error events, and counters for the
// request pipeline. The default implementation writes to OpenTelemetry
// and a Prometheus registry; a no-op implementation is available for
// minimal profiles.
package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"net/http"
)

const instrumentationName = "github.com/raniksyn/mediator/pkg/observability"

// Observer receives pipeline telemetry.
type Observer interface {
	// EmitSpan records a completed span of the given duration.
	EmitSpan(ctx context.Context, name string, attrs map[string]string, duration time.Duration)

	// EmitError records an error event.
	EmitError(ctx context.Context, kind, message string, attrs map[string]string)

	// EmitCounter adds delta to a named counter.
	EmitCounter(name string, tags map[string]string, delta float64)
}

// Noop discards all telemetry.
type Noop struct{}

var _ Observer = Noop{}

// EmitSpan discards the span.
func (Noop) EmitSpan(context.Context, string, map[string]string, time.Duration) {}

// EmitError discards the event.
func (Noop) EmitError(context.Context, string, string, map[string]string) {}

// EmitCounter discards the increment.
func (Noop) EmitCounter(string, map[string]string, float64) {}

// Telemetry is the OpenTelemetry + Prometheus backed Observer.
type Telemetry struct {
	tracer   trace.Tracer
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec

	// RequestDuration times whole requests per method and status.
	RequestDuration *prometheus.HistogramVec

	// RequestsTotal counts requests per method and status.
	RequestsTotal *prometheus.CounterVec
}

var _ Observer = (*Telemetry)(nil)

// NewTelemetry creates an Observer backed by the global otel tracer
// provider and a fresh Prometheus registry.
func NewTelemetry(namespace string) *Telemetry {
	registry := prometheus.NewRegistry()

	t := &Telemetry{
		tracer:   otel.Tracer(instrumentationName),
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of handled requests.",
			Buckets:   []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "status"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Count of handled requests.",
		}, []string{"method", "status"}),
	}
	registry.MustRegister(t.RequestDuration, t.RequestsTotal)
	return t
}

// Handler serves the registry in Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute.String(k, attrs[k]))
	}
	return out
}

// EmitSpan records a completed span backdated by duration.
func (t *Telemetry) EmitSpan(ctx context.Context, name string, attrs map[string]string, duration time.Duration) {
	now := time.Now()
	_, span := t.tracer.Start(ctx, name,
		trace.WithTimestamp(now.Add(-duration)),
		trace.WithAttributes(toAttributes(attrs)...),
	)
	span.End(trace.WithTimestamp(now))
}

// EmitError records an error event on the current span, if any.
func (t *Telemetry) EmitError(ctx context.Context, kind, message string, attrs map[string]string) {
	span := trace.SpanFromContext(ctx)
	kvs := append(toAttributes(attrs), attribute.String("error.kind", kind))
	span.AddEvent("error", trace.WithAttributes(kvs...))
	span.SetStatus(codes.Error, message)

	t.EmitCounter("errors_total", map[string]string{"kind": kind}, 1)
}

// EmitCounter adds delta to the named counter, creating it on first use.
// Tag keys must be stable per counter name.
func (t *Telemetry) EmitCounter(name string, tags map[string]string, delta float64) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t.mu.Lock()
	vec, ok := t.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		if err := t.registry.Register(vec); err != nil {
			t.mu.Unlock()
			return
		}
		t.counters[name] = vec
	}
	t.mu.Unlock()

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, tags[k])
	}
	if c, err := vec.GetMetricWithLabelValues(values...); err == nil {
		c.Add(delta)
	}
}
