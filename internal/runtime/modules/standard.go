package modules

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// StandardInterceptor runs right before a typed handler is called.
type StandardInterceptor interface {
	InterceptStandard(ctx context.Context, inv *pipeline.Invocation[StandardInterceptor], evt event.Event, h event.AnyHandler) error
}

type NopStandardInterceptor struct{}

func (NopStandardInterceptor) InterceptStandard(context.Context, *pipeline.Invocation[StandardInterceptor], event.Event, event.AnyHandler) error {
	return nil
}

// StandardFunc adapts a function to StandardInterceptor. Register it as a
// pointer so it can be removed again.
type StandardFunc func(ctx context.Context, inv *pipeline.Invocation[StandardInterceptor], evt event.Event, h event.AnyHandler) error

func (f *StandardFunc) InterceptStandard(ctx context.Context, inv *pipeline.Invocation[StandardInterceptor], evt event.Event, h event.AnyHandler) error {
	return (*f)(ctx, inv, evt, h)
}

// standardAdapter is the low-level registration backing one typed handler.
type standardAdapter struct {
	m         *StandardHandlerModule
	handler   event.AnyHandler
	predicate event.Predicate
}

func (a *standardAdapter) HandleLowLevel(ctx context.Context, evt event.Event, _ bridge.Connector) error {
	inv := a.m.channel.Invoke()
	return inv.Next().InterceptStandard(ctx, inv, evt, a.handler)
}

// StandardHandlerModule registers application handlers. Each typed handler
// and predicate pair is backed by exactly one low-level registration.
type StandardHandlerModule struct {
	channel *pipeline.Channel[StandardInterceptor]

	mu       sync.Mutex
	lowLevel *LowLevelHandlerModule
	adapters atomic.Pointer[[]*standardAdapter]
}

func NewStandardHandlerModule() *StandardHandlerModule {
	m := &StandardHandlerModule{channel: pipeline.New[StandardInterceptor](NopStandardInterceptor{})}
	m.adapters.Store(&[]*standardAdapter{})
	_ = m.channel.Add(invokeStandard{}, PriorityBase)
	return m
}

func (m *StandardHandlerModule) Add(b *bridge.Bridge) error {
	lowLevel, err := requireModule[*LowLevelHandlerModule](b, "low-level handler")
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.lowLevel = lowLevel
	pending := *m.adapters.Load()
	m.mu.Unlock()

	for _, a := range pending {
		if err := lowLevel.Register(context.Background(), a, a.predicate); err != nil {
			return err
		}
	}
	return nil
}

func (m *StandardHandlerModule) Remove() error {
	m.mu.Lock()
	lowLevel := m.lowLevel
	m.lowLevel = nil
	attached := *m.adapters.Load()
	m.mu.Unlock()

	if lowLevel != nil {
		for _, a := range attached {
			lowLevel.Unregister(context.Background(), a, a.predicate)
		}
	}
	return nil
}

// Channel exposes the typed handler channel.
func (m *StandardHandlerModule) Channel() *pipeline.Channel[StandardInterceptor] {
	return m.channel
}

// Register adds h for events accepted by p. Handlers registered before the
// module joins a bridge are attached when it does.
func (m *StandardHandlerModule) Register(ctx context.Context, h event.AnyHandler, p event.Predicate) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	if p == nil {
		return errspkg.ErrPredicateRequired
	}

	m.mu.Lock()
	current := *m.adapters.Load()
	for _, a := range current {
		if event.Same(a.handler, h) && event.Equal(a.predicate, p) {
			m.mu.Unlock()
			return errspkg.ErrHandlerExists
		}
	}
	adapter := &standardAdapter{m: m, handler: h, predicate: p}
	next := append(append(make([]*standardAdapter, 0, len(current)+1), current...), adapter)
	m.adapters.Store(&next)
	lowLevel := m.lowLevel
	m.mu.Unlock()

	// Listeners are notified without m.mu held.
	if lowLevel != nil {
		if err := lowLevel.Register(ctx, adapter, p); err != nil {
			m.drop(adapter)
			return err
		}
	}
	return nil
}

// Unregister removes h registered under a predicate equal to p, together
// with its low-level adapter.
func (m *StandardHandlerModule) Unregister(ctx context.Context, h event.AnyHandler, p event.Predicate) bool {
	m.mu.Lock()
	var removed *standardAdapter
	for _, a := range *m.adapters.Load() {
		if event.Same(a.handler, h) && event.Equal(a.predicate, p) {
			removed = a
			break
		}
	}
	if removed == nil {
		m.mu.Unlock()
		return false
	}
	m.dropLocked(removed)
	lowLevel := m.lowLevel
	m.mu.Unlock()

	if lowLevel != nil {
		lowLevel.Unregister(ctx, removed, removed.predicate)
	}
	return true
}

func (m *StandardHandlerModule) drop(a *standardAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(a)
}

func (m *StandardHandlerModule) dropLocked(a *standardAdapter) {
	current := *m.adapters.Load()
	next := make([]*standardAdapter, 0, len(current))
	for _, other := range current {
		if other != a {
			next = append(next, other)
		}
	}
	m.adapters.Store(&next)
}

// Len returns the number of registered typed handlers.
func (m *StandardHandlerModule) Len() int {
	return len(*m.adapters.Load())
}

// invokeStandard calls the handler. A handler declared for a narrower type
// than its predicate silently skips events it cannot accept.
type invokeStandard struct{}

func (invokeStandard) InterceptStandard(ctx context.Context, _ *pipeline.Invocation[StandardInterceptor], evt event.Event, h event.AnyHandler) error {
	if !event.Accepts(h.EventType(), evt) {
		return nil
	}
	return h.HandleEvent(ctx, evt)
}
