// Package modules implements the send and receive pipelines of a bridge.
//
// Each side has a base module exposing a pipeline channel (SenderModule,
// HandlerModule) and optional modules that hook into it rather than being
// called directly:
//
//	Send -> SenderModule
//	         |- 200 LocalHandlerSenderModule -> HandlerModule (source nil)
//	         '- 100 ConnectorSenderModule -> connector.Send, per connector
//
//	Handle -> HandlerModule
//	           '- 0 LowLevelHandlerModule -> low-level handlers
//	                  '- StandardHandlerModule adapters -> typed handlers
//
// Dispatch never stops at a failing handler or connector. Handler errors are
// joined and returned once every handler ran; connector errors are logged.
package modules

import (
	"context"
	"fmt"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// SendInterceptor runs for every event passed to Bridge.Send.
type SendInterceptor interface {
	InterceptSend(ctx context.Context, inv *pipeline.Invocation[SendInterceptor], evt event.Event) error
}

// NopSendInterceptor is the terminal of the Sender channel.
type NopSendInterceptor struct{}

func (NopSendInterceptor) InterceptSend(context.Context, *pipeline.Invocation[SendInterceptor], event.Event) error {
	return nil
}

// SenderModule is the base of the send side. It has no behaviour of its own:
// local delivery and connector fan-out hook into its channel.
type SenderModule struct {
	channel *pipeline.Channel[SendInterceptor]
}

func NewSenderModule() *SenderModule {
	return &SenderModule{channel: pipeline.New[SendInterceptor](NopSendInterceptor{})}
}

func (m *SenderModule) Add(*bridge.Bridge) error { return nil }
func (m *SenderModule) Remove() error            { return nil }

// Channel exposes the send channel for extensions.
func (m *SenderModule) Channel() *pipeline.Channel[SendInterceptor] {
	return m.channel
}

// Send runs evt through the send channel.
func (m *SenderModule) Send(ctx context.Context, evt event.Event) error {
	inv := m.channel.Invoke()
	return inv.Next().InterceptSend(ctx, inv, evt)
}

// SendFunc adapts a function to SendInterceptor. Register it as a pointer so
// it can be removed again.
type SendFunc func(ctx context.Context, inv *pipeline.Invocation[SendInterceptor], evt event.Event) error

func (f *SendFunc) InterceptSend(ctx context.Context, inv *pipeline.Invocation[SendInterceptor], evt event.Event) error {
	return (*f)(ctx, inv, evt)
}

func requireModule[T any](b *bridge.Bridge, name string) (T, error) {
	m, ok := bridge.ModuleOf[T](b)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", errspkg.ErrModuleMissing, name)
	}
	return m, nil
}
