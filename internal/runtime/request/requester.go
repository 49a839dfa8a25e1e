package request

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// ReturnInterceptor runs for every matched return before its handler.
type ReturnInterceptor interface {
	InterceptReturn(ctx context.Context, inv *pipeline.Invocation[ReturnInterceptor], evt event.Event, id uint64, h ReturnHandler) error
}

type NopReturnInterceptor struct{}

func (NopReturnInterceptor) InterceptReturn(context.Context, *pipeline.Invocation[ReturnInterceptor], event.Event, uint64, ReturnHandler) error {
	return nil
}

// RequesterModule sends requests and routes their returns to the handler
// registered for the correlation id. Each return is delivered at most once;
// returns for unknown ids are dropped.
type RequesterModule struct {
	channel  *pipeline.Channel[ReturnInterceptor]
	receiver *modules.HandlerModule
	bridge   atomic.Pointer[bridge.Bridge]
	nextID   atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]ReturnHandler
}

func NewRequesterModule() *RequesterModule {
	m := &RequesterModule{
		channel: pipeline.New[ReturnInterceptor](NopReturnInterceptor{}),
		pending: make(map[uint64]ReturnHandler),
	}
	_ = m.channel.Add(invokeReturn{}, modules.PriorityBase)
	return m
}

func (m *RequesterModule) Add(b *bridge.Bridge) error {
	receiver, ok := bridge.ModuleOf[*modules.HandlerModule](b)
	if !ok {
		return fmt.Errorf("%w: handler", errspkg.ErrModuleMissing)
	}
	if err := receiver.Channel().Add(m, modules.PriorityRequestReturn); err != nil {
		return err
	}
	m.receiver = receiver
	m.bridge.Store(b)
	return nil
}

// Remove unhooks the module and discards every pending request. Discarded
// handlers are never called.
func (m *RequesterModule) Remove() error {
	if m.receiver != nil {
		m.receiver.Channel().Remove(m)
		m.receiver = nil
	}
	m.bridge.Store(nil)
	m.mu.Lock()
	m.pending = make(map[uint64]ReturnHandler)
	m.mu.Unlock()
	return nil
}

// Channel exposes the return channel.
func (m *RequesterModule) Channel() *pipeline.Channel[ReturnInterceptor] {
	return m.channel
}

// SendRequest allocates the next correlation id, records h for it and sends
// evt wrapped in a request Envelope. The entry stays pending when Send
// reports handler errors, since the request may still have been delivered;
// use Cancel to drop it.
func (m *RequesterModule) SendRequest(ctx context.Context, evt event.Event, h ReturnHandler) (uint64, error) {
	if evt == nil {
		return 0, errspkg.ErrEventRequired
	}
	if h == nil {
		return 0, errspkg.ErrHandlerRequired
	}
	b := m.bridge.Load()
	if b == nil {
		return 0, errspkg.ErrBridgeRequired
	}

	id := m.nextID.Add(1) - 1
	m.mu.Lock()
	m.pending[id] = h
	m.mu.Unlock()

	return id, b.Send(ctx, Envelope{Payload: evt, ID: id, IsRequest: true})
}

// Cancel drops the pending entry for id and reports whether it existed.
func (m *RequesterModule) Cancel(id uint64) bool {
	_, ok := m.take(id)
	return ok
}

// Pending returns the number of requests awaiting a return.
func (m *RequesterModule) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *RequesterModule) take(id uint64) (ReturnHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	return h, ok
}

// InterceptHandle consumes return envelopes. Everything else continues down
// the Handler chain untouched.
func (m *RequesterModule) InterceptHandle(ctx context.Context, inv *pipeline.Invocation[modules.HandleInterceptor], evt event.Event, source bridge.Connector) error {
	env, ok := evt.(Envelope)
	if !ok || env.IsRequest {
		return inv.Next().InterceptHandle(ctx, inv, evt, source)
	}
	h, ok := m.take(env.ID)
	if !ok {
		if b := m.bridge.Load(); b != nil {
			b.Logger().Debug("Dropping return for unknown request", logging.LogFields{"request_id": env.ID})
		}
		return nil
	}
	ret := m.channel.Invoke()
	return ret.Next().InterceptReturn(ctx, ret, env.Payload, env.ID, h)
}

type invokeReturn struct{}

func (invokeReturn) InterceptReturn(ctx context.Context, _ *pipeline.Invocation[ReturnInterceptor], evt event.Event, _ uint64, h ReturnHandler) error {
	return h.HandleReturn(ctx, evt)
}
