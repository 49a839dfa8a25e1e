package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

const tracerName = "github.com/drblury/eventbridge"

// Span names.
const (
	SpanSend    = "eventbridge.send"
	SpanHandle  = "eventbridge.handle"
	SpanDeliver = "eventbridge.deliver"
)

// Tracing wraps Send, Handle and every connector delivery in a span. Spans
// of one dispatch nest, and the pubsub connector carries the context across
// processes.
type Tracing struct {
	tracer   trace.Tracer
	sender   *modules.SenderModule
	receiver *modules.HandlerModule
	delivery *modules.ConnectorSenderModule
}

// NewTracing uses tp, or the global tracer provider when tp is nil.
func NewTracing(tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{tracer: tp.Tracer(tracerName)}
}

func (t *Tracing) Add(b *bridge.Bridge) error {
	sender, ok := bridge.ModuleOf[*modules.SenderModule](b)
	if !ok {
		return fmt.Errorf("%w: sender", errspkg.ErrModuleMissing)
	}
	receiver, ok := bridge.ModuleOf[*modules.HandlerModule](b)
	if !ok {
		return fmt.Errorf("%w: handler", errspkg.ErrModuleMissing)
	}
	delivery, _ := bridge.ModuleOf[*modules.ConnectorSenderModule](b)

	if err := sender.Channel().Add(t, modules.PriorityTrace); err != nil {
		return err
	}
	if err := receiver.Channel().Add(t, modules.PriorityTrace); err != nil {
		sender.Channel().Remove(t)
		return err
	}
	if delivery != nil {
		if err := delivery.DeliveryChannel().Add(t, modules.PriorityTrace); err != nil {
			sender.Channel().Remove(t)
			receiver.Channel().Remove(t)
			return err
		}
	}
	t.sender, t.receiver, t.delivery = sender, receiver, delivery
	return nil
}

func (t *Tracing) Remove() error {
	if t.sender != nil {
		t.sender.Channel().Remove(t)
	}
	if t.receiver != nil {
		t.receiver.Channel().Remove(t)
	}
	if t.delivery != nil {
		t.delivery.DeliveryChannel().Remove(t)
	}
	t.sender, t.receiver, t.delivery = nil, nil, nil
	return nil
}

func (t *Tracing) start(ctx context.Context, name string, kind trace.SpanKind, evt event.Event, c bridge.Connector) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("event.type", TypeName(evt))}
	if c != nil {
		attrs = append(attrs, attribute.String("connector.type", fmt.Sprintf("%T", c)))
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (t *Tracing) InterceptSend(ctx context.Context, inv *pipeline.Invocation[modules.SendInterceptor], evt event.Event) (err error) {
	ctx, span := t.start(ctx, SpanSend, trace.SpanKindProducer, evt, nil)
	defer func() { end(span, err) }()
	return inv.Next().InterceptSend(ctx, inv, evt)
}

func (t *Tracing) InterceptHandle(ctx context.Context, inv *pipeline.Invocation[modules.HandleInterceptor], evt event.Event, source bridge.Connector) (err error) {
	kind := trace.SpanKindInternal
	if source != nil {
		kind = trace.SpanKindConsumer
	}
	ctx, span := t.start(ctx, SpanHandle, kind, evt, source)
	span.SetAttributes(attribute.Bool("event.local", source == nil))
	defer func() { end(span, err) }()
	return inv.Next().InterceptHandle(ctx, inv, evt, source)
}

func (t *Tracing) InterceptDelivery(ctx context.Context, inv *pipeline.Invocation[modules.DeliveryInterceptor], evt event.Event, c bridge.Connector) (err error) {
	ctx, span := t.start(ctx, SpanDeliver, trace.SpanKindProducer, evt, c)
	defer func() { end(span, err) }()
	return inv.Next().InterceptDelivery(ctx, inv, evt, c)
}
