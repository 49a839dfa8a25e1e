package modules

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// LocalSendInterceptor decides whether and how a sent event is handled by the
// sending bridge itself.
type LocalSendInterceptor interface {
	InterceptLocalSend(ctx context.Context, inv *pipeline.Invocation[LocalSendInterceptor], evt event.Event) error
}

type NopLocalSendInterceptor struct{}

func (NopLocalSendInterceptor) InterceptLocalSend(context.Context, *pipeline.Invocation[LocalSendInterceptor], event.Event) error {
	return nil
}

// LocalHandlerSenderModule feeds every sent event into the bridge's own
// Handler pipeline, as if received from no connector.
type LocalHandlerSenderModule struct {
	channel *pipeline.Channel[LocalSendInterceptor]
	sender  *SenderModule
	bridge  atomic.Pointer[bridge.Bridge]
}

func NewLocalHandlerSenderModule() *LocalHandlerSenderModule {
	m := &LocalHandlerSenderModule{channel: pipeline.New[LocalSendInterceptor](NopLocalSendInterceptor{})}
	_ = m.channel.Add(localDelivery{m}, PriorityBase)
	return m
}

func (m *LocalHandlerSenderModule) Add(b *bridge.Bridge) error {
	sender, err := requireModule[*SenderModule](b, "sender")
	if err != nil {
		return err
	}
	if err := sender.Channel().Add(m, PriorityLocalDelivery); err != nil {
		return err
	}
	m.sender = sender
	m.bridge.Store(b)
	return nil
}

func (m *LocalHandlerSenderModule) Remove() error {
	if m.sender != nil {
		m.sender.Channel().Remove(m)
		m.sender = nil
	}
	m.bridge.Store(nil)
	return nil
}

// Channel exposes the local delivery channel for extensions.
func (m *LocalHandlerSenderModule) Channel() *pipeline.Channel[LocalSendInterceptor] {
	return m.channel
}

// InterceptSend delivers evt locally, then continues the Sender chain even
// when a local handler failed.
func (m *LocalHandlerSenderModule) InterceptSend(ctx context.Context, inv *pipeline.Invocation[SendInterceptor], evt event.Event) error {
	local := m.channel.Invoke()
	localErr := local.Next().InterceptLocalSend(ctx, local, evt)
	return errors.Join(localErr, inv.Next().InterceptSend(ctx, inv, evt))
}

type localDelivery struct {
	m *LocalHandlerSenderModule
}

func (d localDelivery) InterceptLocalSend(ctx context.Context, _ *pipeline.Invocation[LocalSendInterceptor], evt event.Event) error {
	b := d.m.bridge.Load()
	if b == nil {
		return nil
	}
	return b.Handle(ctx, evt, nil)
}
