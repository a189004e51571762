// Package telemetry records dialogue metrics and spans with OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablecall/tablecall/pkg/dialog"
)

const instrumentationName = "github.com/tablecall/tablecall/internal/telemetry"

// Observer implements dialog.Observer.
type Observer struct {
	tracer       trace.Tracer
	flowsStarted metric.Int64Counter
	flowsEnded   metric.Int64Counter
	flowDuration metric.Float64Histogram
	turns        metric.Int64Counter
	turnDuration metric.Float64Histogram
}

var _ dialog.Observer = (*Observer)(nil)

// Option configures an Observer.
type Option func(*options)

type options struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// NewObserver creates the dialogue instruments.
func NewObserver(opts ...Option) (*Observer, error) {
	o := options{tp: otel.GetTracerProvider(), mp: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.mp.Meter(instrumentationName)

	flowsStarted, err := meter.Int64Counter("tablecall_flows_started_total",
		metric.WithDescription("Order and reservation flows started"))
	if err != nil {
		return nil, err
	}
	flowsEnded, err := meter.Int64Counter("tablecall_flows_ended_total",
		metric.WithDescription("Flows ended, by outcome"))
	if err != nil {
		return nil, err
	}
	flowDuration, err := meter.Float64Histogram("tablecall_flow_duration_seconds",
		metric.WithDescription("Time from flow start to its terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Counter("tablecall_turns_total",
		metric.WithDescription("Caller turns handled, by intent"))
	if err != nil {
		return nil, err
	}
	turnDuration, err := meter.Float64Histogram("tablecall_turn_duration_seconds",
		metric.WithDescription("Time spent handling one turn"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:       o.tp.Tracer(instrumentationName),
		flowsStarted: flowsStarted,
		flowsEnded:   flowsEnded,
		flowDuration: flowDuration,
		turns:        turns,
		turnDuration: turnDuration,
	}, nil
}

func (o *Observer) FlowStarted(ctx context.Context, flow dialog.FlowKind) {
	o.flowsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", string(flow))))
}

func (o *Observer) FlowEnded(ctx context.Context, flow dialog.FlowKind, outcome dialog.FlowState, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flow", string(flow)),
		attribute.String("outcome", string(outcome)),
	)
	o.flowsEnded.Add(ctx, 1, attrs)
	o.flowDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// TurnHandled counts the turn and records a span covering its handling.
func (o *Observer) TurnHandled(ctx context.Context, intent dialog.Intent, state dialog.FlowState, elapsed time.Duration) {
	end := time.Now()
	_, span := o.tracer.Start(ctx, "dialog.turn",
		trace.WithTimestamp(end.Add(-elapsed)),
		trace.WithAttributes(
			attribute.String("dialog.intent", string(intent)),
			attribute.String("dialog.state", string(state)),
		),
	)
	span.End(trace.WithTimestamp(end))

	o.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", string(intent))))
	o.turnDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("intent", string(intent))))
}
