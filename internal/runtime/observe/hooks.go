// Package observe provides optional bridge modules for dispatch hooks,
// Prometheus metrics, OpenTelemetry tracing and panic recovery. None of them
// changes routing; each only wraps the pipelines it hooks into.
package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
	"github.com/drblury/eventbridge/internal/runtime/request"
)

// Stage names the pipeline a dispatch was observed on.
type Stage string

const (
	// StageSend is an event entering the bridge through Send.
	StageSend Stage = "send"
	// StageHandle is an event entering the bridge through Handle, either
	// from a connector or from local delivery.
	StageHandle Stage = "handle"
	// StageDeliver is the delivery of an event to one connector.
	StageDeliver Stage = "deliver"
)

// DispatchContext describes one observed dispatch.
type DispatchContext struct {
	Stage     Stage
	Event     event.Event
	EventType string
	// Connector is the source for StageHandle (nil for local) and the target
	// for StageDeliver.
	Connector bridge.Connector
	Context   context.Context
	StartedAt time.Time
	// Duration is only set in OnDone and OnError.
	Duration time.Duration
}

// Hooks are dispatch callbacks. All hooks are optional.
type Hooks struct {
	OnStart func(ctx DispatchContext)
	OnDone  func(ctx DispatchContext)
	OnError func(ctx DispatchContext, err error)
}

// Merge combines two Hooks. The hooks from other are called after the hooks
// from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chain(h.OnStart, other.OnStart),
		OnDone:  chain(h.OnDone, other.OnDone),
		OnError: chainErr(h.OnError, other.OnError),
	}
}

func chain(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// TypeName is the label events are reported under. Request envelopes are
// reported with their payload type.
func TypeName(evt event.Event) string {
	if env, ok := evt.(request.Envelope); ok {
		kind := "return"
		if env.IsRequest {
			kind = "request"
		}
		return fmt.Sprintf("%s[%T]", kind, env.Payload)
	}
	return fmt.Sprintf("%T", evt)
}

// LoggingHooks logs every dispatch at debug level and failures at error
// level.
func LoggingHooks(log logging.ServiceLogger) Hooks {
	log = logging.OrNop(log)
	fields := func(ctx DispatchContext) logging.LogFields {
		f := logging.EventFields(ctx.Event, ctx.Connector)
		f["stage"] = string(ctx.Stage)
		if ctx.Duration > 0 {
			f["duration_ms"] = ctx.Duration.Milliseconds()
		}
		return f
	}
	return Hooks{
		OnStart: func(ctx DispatchContext) {
			log.Trace("Dispatch started", fields(ctx))
		},
		OnDone: func(ctx DispatchContext) {
			log.Debug("Dispatch completed", fields(ctx))
		},
		OnError: func(ctx DispatchContext, err error) {
			log.Error("Dispatch failed", err, fields(ctx))
		},
	}
}

// HooksModule runs Hooks around the Sender, Handler and delivery pipelines.
// The delivery hook is skipped when the bridge has no connector sender.
type HooksModule struct {
	hooks    Hooks
	sender   *modules.SenderModule
	receiver *modules.HandlerModule
	delivery *modules.ConnectorSenderModule
}

func NewHooksModule(hooks Hooks) *HooksModule {
	return &HooksModule{hooks: hooks}
}

func (m *HooksModule) Add(b *bridge.Bridge) error {
	sender, ok := bridge.ModuleOf[*modules.SenderModule](b)
	if !ok {
		return fmt.Errorf("%w: sender", errspkg.ErrModuleMissing)
	}
	receiver, ok := bridge.ModuleOf[*modules.HandlerModule](b)
	if !ok {
		return fmt.Errorf("%w: handler", errspkg.ErrModuleMissing)
	}
	delivery, _ := bridge.ModuleOf[*modules.ConnectorSenderModule](b)

	if err := sender.Channel().Add(m, modules.PriorityObserve); err != nil {
		return err
	}
	if err := receiver.Channel().Add(m, modules.PriorityObserve); err != nil {
		sender.Channel().Remove(m)
		return err
	}
	if delivery != nil {
		if err := delivery.DeliveryChannel().Add(m, modules.PriorityObserve); err != nil {
			sender.Channel().Remove(m)
			receiver.Channel().Remove(m)
			return err
		}
	}
	m.sender, m.receiver, m.delivery = sender, receiver, delivery
	return nil
}

func (m *HooksModule) Remove() error {
	if m.sender != nil {
		m.sender.Channel().Remove(m)
	}
	if m.receiver != nil {
		m.receiver.Channel().Remove(m)
	}
	if m.delivery != nil {
		m.delivery.DeliveryChannel().Remove(m)
	}
	m.sender, m.receiver, m.delivery = nil, nil, nil
	return nil
}

func (m *HooksModule) run(ctx context.Context, stage Stage, evt event.Event, c bridge.Connector, next func() error) error {
	dc := DispatchContext{
		Stage:     stage,
		Event:     evt,
		EventType: TypeName(evt),
		Connector: c,
		Context:   ctx,
		StartedAt: time.Now(),
	}
	if m.hooks.OnStart != nil {
		m.hooks.OnStart(dc)
	}
	err := next()
	dc.Duration = time.Since(dc.StartedAt)
	if err != nil {
		if m.hooks.OnError != nil {
			m.hooks.OnError(dc, err)
		}
	} else if m.hooks.OnDone != nil {
		m.hooks.OnDone(dc)
	}
	return err
}

func (m *HooksModule) InterceptSend(ctx context.Context, inv *pipeline.Invocation[modules.SendInterceptor], evt event.Event) error {
	return m.run(ctx, StageSend, evt, nil, func() error {
		return inv.Next().InterceptSend(ctx, inv, evt)
	})
}

func (m *HooksModule) InterceptHandle(ctx context.Context, inv *pipeline.Invocation[modules.HandleInterceptor], evt event.Event, source bridge.Connector) error {
	return m.run(ctx, StageHandle, evt, source, func() error {
		return inv.Next().InterceptHandle(ctx, inv, evt, source)
	})
}

func (m *HooksModule) InterceptDelivery(ctx context.Context, inv *pipeline.Invocation[modules.DeliveryInterceptor], evt event.Event, c bridge.Connector) error {
	return m.run(ctx, StageDeliver, evt, c, func() error {
		return inv.Next().InterceptDelivery(ctx, inv, evt, c)
	})
}
