package modules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// LowLevelHandler receives raw events together with the connector they
// arrived on (nil for local events).
type LowLevelHandler interface {
	HandleLowLevel(ctx context.Context, evt event.Event, source bridge.Connector) error
}

// NewLowLevelHandler wraps fn. Every call returns a distinct handler.
func NewLowLevelHandler(fn func(ctx context.Context, evt event.Event, source bridge.Connector) error) LowLevelHandler {
	return &lowLevelFunc{fn: fn}
}

type lowLevelFunc struct {
	fn func(ctx context.Context, evt event.Event, source bridge.Connector) error
}

func (l *lowLevelFunc) HandleLowLevel(ctx context.Context, evt event.Event, source bridge.Connector) error {
	return l.fn(ctx, evt, source)
}

// LowLevelInterceptor runs once per matching (event, handler) pair.
type LowLevelInterceptor interface {
	InterceptLowLevel(ctx context.Context, inv *pipeline.Invocation[LowLevelInterceptor], evt event.Event, source bridge.Connector, h LowLevelHandler) error
}

type NopLowLevelInterceptor struct{}

func (NopLowLevelInterceptor) InterceptLowLevel(context.Context, *pipeline.Invocation[LowLevelInterceptor], event.Event, bridge.Connector, LowLevelHandler) error {
	return nil
}

// LowLevelFunc adapts a function to LowLevelInterceptor. Register it as a
// pointer so it can be removed again.
type LowLevelFunc func(ctx context.Context, inv *pipeline.Invocation[LowLevelInterceptor], evt event.Event, source bridge.Connector, h LowLevelHandler) error

func (f *LowLevelFunc) InterceptLowLevel(ctx context.Context, inv *pipeline.Invocation[LowLevelInterceptor], evt event.Event, source bridge.Connector, h LowLevelHandler) error {
	return (*f)(ctx, inv, evt, source, h)
}

type lowLevelRegistration struct {
	handler   LowLevelHandler
	predicate event.Predicate
}

// LowLevelHandlerModule calls every registered handler whose predicate
// accepts an inbound event. Every registration is announced to the bridge's
// handler listeners, so typed and request handlers built on top of it are
// advertised exactly once.
type LowLevelHandlerModule struct {
	channel  *pipeline.Channel[LowLevelInterceptor]
	receiver *HandlerModule
	bridge   atomic.Pointer[bridge.Bridge]

	mu            sync.Mutex
	registrations atomic.Pointer[[]lowLevelRegistration]
}

func NewLowLevelHandlerModule() *LowLevelHandlerModule {
	m := &LowLevelHandlerModule{channel: pipeline.New[LowLevelInterceptor](NopLowLevelInterceptor{})}
	m.registrations.Store(&[]lowLevelRegistration{})
	_ = m.channel.Add(invokeLowLevel{}, PriorityBase)
	return m
}

func (m *LowLevelHandlerModule) Add(b *bridge.Bridge) error {
	receiver, err := requireModule[*HandlerModule](b, "handler")
	if err != nil {
		return err
	}
	if err := receiver.Channel().Add(m, PriorityLowLevelFanOut); err != nil {
		return err
	}
	m.receiver = receiver
	m.bridge.Store(b)
	return nil
}

func (m *LowLevelHandlerModule) Remove() error {
	if m.receiver != nil {
		m.receiver.Channel().Remove(m)
		m.receiver = nil
	}
	m.bridge.Store(nil)
	return nil
}

// Channel exposes the per-handler channel.
func (m *LowLevelHandlerModule) Channel() *pipeline.Channel[LowLevelInterceptor] {
	return m.channel
}

// Register adds h under p and notifies handler listeners. The same handler
// may be registered under several predicates, but not twice under equal ones.
func (m *LowLevelHandlerModule) Register(ctx context.Context, h LowLevelHandler, p event.Predicate) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	if p == nil {
		return errspkg.ErrPredicateRequired
	}
	m.mu.Lock()
	current := *m.registrations.Load()
	for _, r := range current {
		if event.Same(r.handler, h) && event.Equal(r.predicate, p) {
			m.mu.Unlock()
			return errspkg.ErrHandlerExists
		}
	}
	next := append(append(make([]lowLevelRegistration, 0, len(current)+1), current...), lowLevelRegistration{handler: h, predicate: p})
	m.registrations.Store(&next)
	m.mu.Unlock()

	if b := m.bridge.Load(); b != nil {
		b.NotifyHandlerAdded(ctx, p)
	}
	return nil
}

// Unregister removes h registered under a predicate equal to p and notifies
// handler listeners.
func (m *LowLevelHandlerModule) Unregister(ctx context.Context, h LowLevelHandler, p event.Predicate) bool {
	m.mu.Lock()
	current := *m.registrations.Load()
	var removed *lowLevelRegistration
	next := make([]lowLevelRegistration, 0, len(current))
	for i, r := range current {
		if removed == nil && event.Same(r.handler, h) && event.Equal(r.predicate, p) {
			removed = &current[i]
			continue
		}
		next = append(next, r)
	}
	if removed == nil {
		m.mu.Unlock()
		return false
	}
	m.registrations.Store(&next)
	m.mu.Unlock()

	if b := m.bridge.Load(); b != nil {
		b.NotifyHandlerRemoved(ctx, removed.predicate)
	}
	return true
}

// Predicates returns the predicate of every registration, duplicates
// included.
func (m *LowLevelHandlerModule) Predicates() []event.Predicate {
	current := *m.registrations.Load()
	out := make([]event.Predicate, len(current))
	for i, r := range current {
		out[i] = r.predicate
	}
	return out
}

// Len returns the number of registrations.
func (m *LowLevelHandlerModule) Len() int {
	return len(*m.registrations.Load())
}

// InterceptHandle fans evt out to every matching handler, then continues the
// Handler chain. Handler errors are joined; none of them stops the fan-out.
func (m *LowLevelHandlerModule) InterceptHandle(ctx context.Context, inv *pipeline.Invocation[HandleInterceptor], evt event.Event, source bridge.Connector) error {
	var errs []error
	for _, r := range *m.registrations.Load() {
		if !event.Apply(r.predicate, evt) {
			continue
		}
		specific := m.channel.Invoke()
		if err := specific.Next().InterceptLowLevel(ctx, specific, evt, source, r.handler); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, inv.Next().InterceptHandle(ctx, inv, evt, source))
	return errors.Join(errs...)
}

type invokeLowLevel struct{}

func (invokeLowLevel) InterceptLowLevel(ctx context.Context, _ *pipeline.Invocation[LowLevelInterceptor], evt event.Event, source bridge.Connector, h LowLevelHandler) error {
	return h.HandleLowLevel(ctx, evt, source)
}
