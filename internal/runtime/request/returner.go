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
)

type returnerRegistration struct {
	m         *ReturnerModule
	handler   RequestHandler
	predicate event.Predicate
}

// HandleLowLevel unwraps the request and calls the handler with a sender
// bound to the request's id and origin.
func (r *returnerRegistration) HandleLowLevel(ctx context.Context, evt event.Event, source bridge.Connector) error {
	env, ok := evt.(Envelope)
	if !ok || !env.IsRequest {
		return nil
	}
	b := r.m.bridge.Load()
	if b == nil {
		return nil
	}
	if !event.Accepts(r.handler.EventType(), env.Payload) {
		return nil
	}
	return r.handler.HandleRequest(ctx, env.Payload, &returnSender{bridge: b, source: source, id: env.ID})
}

// ReturnerModule answers requests with registered request handlers. Each
// registration is a low-level handler gated by Requests(p), which is also
// what handler listeners see.
type ReturnerModule struct {
	lowLevel *modules.LowLevelHandlerModule
	bridge   atomic.Pointer[bridge.Bridge]

	mu            sync.Mutex
	registrations atomic.Pointer[[]*returnerRegistration]
}

func NewReturnerModule() *ReturnerModule {
	m := &ReturnerModule{}
	m.registrations.Store(&[]*returnerRegistration{})
	return m
}

func (m *ReturnerModule) Add(b *bridge.Bridge) error {
	lowLevel, ok := bridge.ModuleOf[*modules.LowLevelHandlerModule](b)
	if !ok {
		return fmt.Errorf("%w: low-level handler", errspkg.ErrModuleMissing)
	}
	m.lowLevel = lowLevel
	m.bridge.Store(b)
	return nil
}

func (m *ReturnerModule) Remove() error {
	if m.lowLevel != nil {
		for _, r := range *m.registrations.Load() {
			m.lowLevel.Unregister(context.Background(), r, Requests(r.predicate))
		}
		m.lowLevel = nil
	}
	m.bridge.Store(nil)
	return nil
}

// Register answers requests whose payload matches p with h.
func (m *ReturnerModule) Register(ctx context.Context, h RequestHandler, p event.Predicate) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	if p == nil {
		return errspkg.ErrPredicateRequired
	}
	if m.bridge.Load() == nil || m.lowLevel == nil {
		return errspkg.ErrBridgeRequired
	}

	m.mu.Lock()
	current := *m.registrations.Load()
	for _, r := range current {
		if event.Same(r.handler, h) && event.Equal(r.predicate, p) {
			m.mu.Unlock()
			return errspkg.ErrHandlerExists
		}
	}
	reg := &returnerRegistration{m: m, handler: h, predicate: p}
	next := append(append(make([]*returnerRegistration, 0, len(current)+1), current...), reg)
	m.registrations.Store(&next)
	m.mu.Unlock()

	if err := m.lowLevel.Register(ctx, reg, Requests(p)); err != nil {
		m.drop(reg)
		return err
	}
	return nil
}

// Unregister removes h registered under a predicate equal to p.
func (m *ReturnerModule) Unregister(ctx context.Context, h RequestHandler, p event.Predicate) bool {
	var removed *returnerRegistration
	for _, r := range *m.registrations.Load() {
		if event.Same(r.handler, h) && event.Equal(r.predicate, p) {
			removed = r
			break
		}
	}
	if removed == nil || !m.drop(removed) {
		return false
	}
	if m.lowLevel != nil {
		m.lowLevel.Unregister(ctx, removed, Requests(removed.predicate))
	}
	return true
}

// drop removes reg and reports whether it was still registered.
func (m *ReturnerModule) drop(reg *returnerRegistration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := *m.registrations.Load()
	next := make([]*returnerRegistration, 0, len(current))
	for _, r := range current {
		if r != reg {
			next = append(next, r)
		}
	}
	if len(next) == len(current) {
		return false
	}
	m.registrations.Store(&next)
	return true
}

type returnSender struct {
	bridge *bridge.Bridge
	source bridge.Connector
	id     uint64
}

func (s *returnSender) ID() uint64 {
	return s.id
}

// SendReturn delivers evt to the requester. Local requests are answered
// through the bridge's Handler pipeline; remote ones through the connector
// they arrived on, where a failure is logged and not returned.
func (s *returnSender) SendReturn(ctx context.Context, evt event.Event) error {
	if evt == nil {
		return errspkg.ErrEventRequired
	}
	env := Envelope{Payload: evt, ID: s.id, IsRequest: false}
	if s.source == nil {
		return s.bridge.Handle(ctx, env, nil)
	}
	if err := s.source.Send(ctx, env); err != nil {
		fields := logging.EventFields(evt, s.source)
		fields["request_id"] = s.id
		s.bridge.Logger().Error("Failed to send return", &errspkg.TransportError{Connector: s.source, Err: err}, fields)
	}
	return nil
}
