// Copyright 2025 The Bizmatters Platform Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"encoding/json"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// TraceContextAnnotation is a JSON-serialized map of W3C Trace Context
	// headers. The gateway stamps it on claims so a sandbox's whole
	// lifecycle, including later resurrections, joins one trace.
	// Example: {"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	TraceContextAnnotation = "platform.bizmatters.io/trace-context"
)

// Span and event names recorded across a sandbox lifecycle.
const (
	SpanReconcile = "sandbox.reconcile"
	SpanSweep     = "hibernation.sweep"

	EventComposed   = "sandbox.composed"
	EventSoftExpiry = "hibernation.soft_expiry"
	EventHardExpiry = "hibernation.hard_expiry"
	EventStuck      = "hibernation.stuck"
)

// Instrumenter defines the operations needed for tracing sandbox lifecycles.
type Instrumenter interface {
	StartSpan(ctx context.Context, obj metav1.Object, spanName string, attrs map[string]string) (context.Context, func())
	AddEvent(ctx context.Context, name string, attrs map[string]string)
	IsRecording(ctx context.Context) bool
}

type noopInstrumenter struct{}

func (n *noopInstrumenter) StartSpan(ctx context.Context, _ metav1.Object, _ string, _ map[string]string) (context.Context, func()) {
	return ctx, func() {}
}
func (n *noopInstrumenter) AddEvent(_ context.Context, _ string, _ map[string]string) {}
func (n *noopInstrumenter) IsRecording(_ context.Context) bool                        { return false }

// NewNoOp returns an Instrumenter that records nothing. Used when tracing
// is disabled.
func NewNoOp() Instrumenter { return &noopInstrumenter{} }

type otelInstrumenter struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     logr.Logger
}

// StartSpan starts a span, continuing a trace extracted from the object's
// annotations when the gateway propagated one.
func (o *otelInstrumenter) StartSpan(ctx context.Context, obj metav1.Object, spanName string, attrs map[string]string) (context.Context, func()) {
	if obj != nil && obj.GetAnnotations() != nil {
		if tc, ok := obj.GetAnnotations()[TraceContextAnnotation]; ok && tc != "" {
			var carrier map[string]string
			if err := json.Unmarshal([]byte(tc), &carrier); err == nil {
				ctx = o.propagator.Extract(ctx, propagation.MapCarrier(carrier))
			} else {
				o.logger.Error(err, "failed to unmarshal trace context annotation", "annotation", tc)
			}
		}
	}

	opts := []trace.SpanStartOption{}
	if len(attrs) > 0 {
		otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			otelAttrs = append(otelAttrs, attribute.String(k, v))
		}
		opts = append(opts, trace.WithAttributes(otelAttrs...))
	}

	ctx, span := o.tracer.Start(ctx, spanName, opts...)
	return ctx, func() { span.End() }
}

// AddEvent records a lifecycle event on the current span.
func (o *otelInstrumenter) AddEvent(ctx context.Context, name string, attrs map[string]string) {
	span := trace.SpanFromContext(ctx)
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}
	span.AddEvent(name, trace.WithAttributes(otelAttrs...))
}

// IsRecording returns true if the span in the context is a real, sampled-in span.
func (o *otelInstrumenter) IsRecording(ctx context.Context) bool {
	return trace.SpanFromContext(ctx).IsRecording()
}

// SetupOTel initializes the global OpenTelemetry SDK and returns an Instrumenter.
func SetupOTel(ctx context.Context, serviceName string) (Instrumenter, func(), error) {
	// exporter respects OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_EXPORTER_OTLP_INSECURE env vars.
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	// Standard W3C Context propagator only, no Baggage.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &otelInstrumenter{
		tracer:     tp.Tracer("agent-sandbox-operator"),
		propagator: otel.GetTextMapPropagator(),
		logger:     log.FromContext(ctx).WithName("tracing"),
	}, func() { _ = tp.Shutdown(context.Background()) }, nil
}
