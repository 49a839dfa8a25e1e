package modules

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// ConnectorSendInterceptor runs once per sent event before it is fanned out
// to the connectors.
type ConnectorSendInterceptor interface {
	InterceptConnectorSend(ctx context.Context, inv *pipeline.Invocation[ConnectorSendInterceptor], evt event.Event) error
}

type NopConnectorSendInterceptor struct{}

func (NopConnectorSendInterceptor) InterceptConnectorSend(context.Context, *pipeline.Invocation[ConnectorSendInterceptor], event.Event) error {
	return nil
}

// DeliveryInterceptor runs once per (event, connector) pair. Returning
// without calling inv.Next() suppresses delivery to that connector.
type DeliveryInterceptor interface {
	InterceptDelivery(ctx context.Context, inv *pipeline.Invocation[DeliveryInterceptor], evt event.Event, c bridge.Connector) error
}

type NopDeliveryInterceptor struct{}

func (NopDeliveryInterceptor) InterceptDelivery(context.Context, *pipeline.Invocation[DeliveryInterceptor], event.Event, bridge.Connector) error {
	return nil
}

// DeliveryFunc adapts a function to DeliveryInterceptor. Register it as a
// pointer so it can be removed again.
type DeliveryFunc func(ctx context.Context, inv *pipeline.Invocation[DeliveryInterceptor], evt event.Event, c bridge.Connector) error

func (f *DeliveryFunc) InterceptDelivery(ctx context.Context, inv *pipeline.Invocation[DeliveryInterceptor], evt event.Event, c bridge.Connector) error {
	return (*f)(ctx, inv, evt, c)
}

// ConnectorSenderModule delivers every sent event to every active connector.
// A failing connector is logged and skipped; it never blocks delivery to the
// others and never fails the Send call.
type ConnectorSenderModule struct {
	global   *pipeline.Channel[ConnectorSendInterceptor]
	specific *pipeline.Channel[DeliveryInterceptor]
	sender   *SenderModule
	bridge   atomic.Pointer[bridge.Bridge]
	failures atomic.Uint64
}

func NewConnectorSenderModule() *ConnectorSenderModule {
	m := &ConnectorSenderModule{
		global:   pipeline.New[ConnectorSendInterceptor](NopConnectorSendInterceptor{}),
		specific: pipeline.New[DeliveryInterceptor](NopDeliveryInterceptor{}),
	}
	_ = m.global.Add(fanOut{m}, PriorityBase)
	_ = m.specific.Add(transportDelivery{}, PriorityBase)
	return m
}

func (m *ConnectorSenderModule) Add(b *bridge.Bridge) error {
	sender, err := requireModule[*SenderModule](b, "sender")
	if err != nil {
		return err
	}
	if err := sender.Channel().Add(m, PriorityConnectorFanOut); err != nil {
		return err
	}
	m.sender = sender
	m.bridge.Store(b)
	return nil
}

func (m *ConnectorSenderModule) Remove() error {
	if m.sender != nil {
		m.sender.Channel().Remove(m)
		m.sender = nil
	}
	m.bridge.Store(nil)
	return nil
}

// Channel exposes the per-event channel.
func (m *ConnectorSenderModule) Channel() *pipeline.Channel[ConnectorSendInterceptor] {
	return m.global
}

// DeliveryChannel exposes the per-(event, connector) channel.
func (m *ConnectorSenderModule) DeliveryChannel() *pipeline.Channel[DeliveryInterceptor] {
	return m.specific
}

// Failures reports how many connector deliveries failed.
func (m *ConnectorSenderModule) Failures() uint64 {
	return m.failures.Load()
}

func (m *ConnectorSenderModule) InterceptSend(ctx context.Context, inv *pipeline.Invocation[SendInterceptor], evt event.Event) error {
	global := m.global.Invoke()
	err := global.Next().InterceptConnectorSend(ctx, global, evt)
	return errors.Join(err, inv.Next().InterceptSend(ctx, inv, evt))
}

// SendTo runs evt through the delivery channel of a single connector and
// returns the transport failure, if any.
func (m *ConnectorSenderModule) SendTo(ctx context.Context, evt event.Event, c bridge.Connector) error {
	if c == nil {
		return errspkg.ErrConnectorRequired
	}
	inv := m.specific.Invoke()
	return inv.Next().InterceptDelivery(ctx, inv, evt, c)
}

func (m *ConnectorSenderModule) logger() logging.ServiceLogger {
	if b := m.bridge.Load(); b != nil {
		return b.Logger()
	}
	return logging.Nop()
}

type fanOut struct {
	m *ConnectorSenderModule
}

func (f fanOut) InterceptConnectorSend(ctx context.Context, _ *pipeline.Invocation[ConnectorSendInterceptor], evt event.Event) error {
	b := f.m.bridge.Load()
	if b == nil {
		return nil
	}
	for _, c := range b.Connectors() {
		if err := f.m.SendTo(ctx, evt, c); err != nil {
			f.m.failures.Add(1)
			f.m.logger().Error("Failed to deliver event to connector", err, logging.EventFields(evt, c))
		}
	}
	return nil
}

type transportDelivery struct{}

func (transportDelivery) InterceptDelivery(ctx context.Context, _ *pipeline.Invocation[DeliveryInterceptor], evt event.Event, c bridge.Connector) error {
	if err := c.Send(ctx, evt); err != nil {
		return &errspkg.TransportError{Connector: c, Err: err}
	}
	return nil
}
