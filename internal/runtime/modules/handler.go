package modules

import (
	"context"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// HandleInterceptor runs for every event passed to Bridge.Handle. source is
// nil for locally originated events.
type HandleInterceptor interface {
	InterceptHandle(ctx context.Context, inv *pipeline.Invocation[HandleInterceptor], evt event.Event, source bridge.Connector) error
}

// NopHandleInterceptor is the terminal of the Handler channel.
type NopHandleInterceptor struct{}

func (NopHandleInterceptor) InterceptHandle(context.Context, *pipeline.Invocation[HandleInterceptor], event.Event, bridge.Connector) error {
	return nil
}

// HandleFunc adapts a function to HandleInterceptor. Register it as a pointer
// so it can be removed again.
type HandleFunc func(ctx context.Context, inv *pipeline.Invocation[HandleInterceptor], evt event.Event, source bridge.Connector) error

func (f *HandleFunc) InterceptHandle(ctx context.Context, inv *pipeline.Invocation[HandleInterceptor], evt event.Event, source bridge.Connector) error {
	return (*f)(ctx, inv, evt, source)
}

// HandlerModule is the base of the receive side. Transports call it with the
// connector an event arrived on; local delivery calls it with a nil source.
type HandlerModule struct {
	channel *pipeline.Channel[HandleInterceptor]
}

func NewHandlerModule() *HandlerModule {
	return &HandlerModule{channel: pipeline.New[HandleInterceptor](NopHandleInterceptor{})}
}

func (m *HandlerModule) Add(*bridge.Bridge) error { return nil }
func (m *HandlerModule) Remove() error            { return nil }

// Channel exposes the handle channel for extensions.
func (m *HandlerModule) Channel() *pipeline.Channel[HandleInterceptor] {
	return m.channel
}

// Handle runs evt through the handle channel.
func (m *HandlerModule) Handle(ctx context.Context, evt event.Event, source bridge.Connector) error {
	inv := m.channel.Invoke()
	return inv.Next().InterceptHandle(ctx, inv, evt, source)
}
