// Package interest implements selective forwarding. Each side of a
// connector advertises the predicates of its handlers; the sending side
// suppresses events no advertised predicate accepts.
//
// Suppression is an optimization and must never drop an event the peer
// wants. A connector whose peer never advertised anything therefore passes
// every event, and interest updates themselves always pass.
package interest

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

// Op tells whether an Update adds or removes predicates.
type Op int

const (
	OpAdd Op = iota + 1
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Update is the control event peers exchange to keep interest in sync.
type Update struct {
	Predicates []event.Predicate
	Op         Op
}

type interestMap map[bridge.Connector][]event.Predicate

// Module tracks what the peer behind each connector wants and filters
// outbound deliveries accordingly.
type Module struct {
	bridge   atomic.Pointer[bridge.Bridge]
	receiver *modules.HandlerModule
	sender   *modules.ConnectorSenderModule
	local    *modules.LocalHandlerSenderModule

	mu         sync.Mutex
	interest   atomic.Pointer[interestMap]
	suppressed atomic.Uint64
}

func NewModule() *Module {
	m := &Module{}
	empty := interestMap{}
	m.interest.Store(&empty)
	return m
}

func (m *Module) Add(b *bridge.Bridge) error {
	receiver, ok := bridge.ModuleOf[*modules.HandlerModule](b)
	if !ok {
		return fmt.Errorf("%w: handler", errspkg.ErrModuleMissing)
	}
	sender, ok := bridge.ModuleOf[*modules.ConnectorSenderModule](b)
	if !ok {
		return fmt.Errorf("%w: connector sender", errspkg.ErrModuleMissing)
	}
	local, _ := bridge.ModuleOf[*modules.LocalHandlerSenderModule](b)

	if err := receiver.Channel().Add(m, modules.PriorityInterestUpdate); err != nil {
		return err
	}
	if err := sender.DeliveryChannel().Add(m, modules.PriorityInterestFilter); err != nil {
		receiver.Channel().Remove(m)
		return err
	}
	if local != nil {
		if err := local.Channel().Add(m, modules.PriorityInterestExclusion); err != nil {
			receiver.Channel().Remove(m)
			sender.DeliveryChannel().Remove(m)
			return err
		}
	}

	m.receiver, m.sender, m.local = receiver, sender, local
	m.bridge.Store(b)
	b.AddHandlerListener(m)
	b.AddConnectorListener(m)

	for _, c := range b.Connectors() {
		m.advertise(context.Background(), c)
	}
	return nil
}

func (m *Module) Remove() error {
	if b := m.bridge.Load(); b != nil {
		b.RemoveHandlerListener(m)
		b.RemoveConnectorListener(m)
	}
	if m.receiver != nil {
		m.receiver.Channel().Remove(m)
	}
	if m.sender != nil {
		m.sender.DeliveryChannel().Remove(m)
	}
	if m.local != nil {
		m.local.Channel().Remove(m)
	}
	m.receiver, m.sender, m.local = nil, nil, nil
	m.bridge.Store(nil)

	m.mu.Lock()
	empty := interestMap{}
	m.interest.Store(&empty)
	m.mu.Unlock()
	return nil
}

// Interest returns the predicates the peer behind c advertised. ok is false
// when the peer never advertised anything.
func (m *Module) Interest(c bridge.Connector) (preds []event.Predicate, ok bool) {
	preds, ok = (*m.interest.Load())[c]
	return append([]event.Predicate(nil), preds...), ok
}

// Suppressed reports how many deliveries were skipped.
func (m *Module) Suppressed() uint64 {
	return m.suppressed.Load()
}

func (m *Module) HandlerAdded(ctx context.Context, p event.Predicate) {
	m.broadcast(ctx, Update{Predicates: []event.Predicate{p}, Op: OpAdd})
}

func (m *Module) HandlerRemoved(ctx context.Context, p event.Predicate) {
	m.broadcast(ctx, Update{Predicates: []event.Predicate{p}, Op: OpRemove})
}

// ConnectorAdded sends the complete local interest to the new peer once.
// State the peer advertised while the connector was starting is kept.
func (m *Module) ConnectorAdded(ctx context.Context, c bridge.Connector) {
	m.advertise(ctx, c)
}

// ConnectorRemoved discards what the peer behind c advertised.
func (m *Module) ConnectorRemoved(_ context.Context, c bridge.Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := *m.interest.Load()
	if _, ok := current[c]; !ok {
		return
	}
	next := make(interestMap, len(current))
	for k, v := range current {
		if k != c {
			next[k] = v
		}
	}
	m.interest.Store(&next)
}

func (m *Module) advertise(ctx context.Context, c bridge.Connector) {
	b := m.bridge.Load()
	if b == nil || m.sender == nil {
		return
	}
	update := Update{Predicates: b.Predicates(), Op: OpAdd}
	if err := m.sender.SendTo(ctx, update, c); err != nil {
		b.Logger().Error("Failed to advertise interest", err, logging.EventFields(update, c))
	}
}

func (m *Module) broadcast(ctx context.Context, update Update) {
	b := m.bridge.Load()
	if b == nil {
		return
	}
	if err := b.Send(ctx, update); err != nil {
		b.Logger().Error("Failed to broadcast interest update", err, logging.LogFields{"op": update.Op.String()})
	}
}

// apply records an update received from the peer behind source.
func (m *Module) apply(source bridge.Connector, update Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := *m.interest.Load()
	known, ok := current[source]
	preds := append([]event.Predicate(nil), known...)
	switch update.Op {
	case OpAdd:
		preds = append(preds, update.Predicates...)
	case OpRemove:
		// A peer that never advertised stays unknown and keeps receiving
		// everything.
		if !ok {
			return
		}
		for _, p := range update.Predicates {
			for i, existing := range preds {
				if event.Equal(existing, p) {
					preds = append(preds[:i], preds[i+1:]...)
					break
				}
			}
		}
	default:
		return
	}
	next := make(interestMap, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[source] = preds
	m.interest.Store(&next)
}

// InterceptHandle consumes inbound updates.
func (m *Module) InterceptHandle(ctx context.Context, inv *pipeline.Invocation[modules.HandleInterceptor], evt event.Event, source bridge.Connector) error {
	update, ok := evt.(Update)
	if !ok {
		return inv.Next().InterceptHandle(ctx, inv, evt, source)
	}
	if source != nil {
		m.apply(source, update)
	}
	return nil
}

// InterceptLocalSend keeps outbound updates away from local handlers.
func (m *Module) InterceptLocalSend(ctx context.Context, inv *pipeline.Invocation[modules.LocalSendInterceptor], evt event.Event) error {
	if _, ok := evt.(Update); ok {
		return nil
	}
	return inv.Next().InterceptLocalSend(ctx, inv, evt)
}

// InterceptDelivery suppresses evt when the peer behind c advertised
// interest and none of its predicates accept evt.
func (m *Module) InterceptDelivery(ctx context.Context, inv *pipeline.Invocation[modules.DeliveryInterceptor], evt event.Event, c bridge.Connector) error {
	if _, ok := evt.(Update); ok {
		return inv.Next().InterceptDelivery(ctx, inv, evt, c)
	}
	preds, known := (*m.interest.Load())[c]
	if !known {
		return inv.Next().InterceptDelivery(ctx, inv, evt, c)
	}
	for _, p := range preds {
		if event.Apply(p, evt) {
			return inv.Next().InterceptDelivery(ctx, inv, evt, c)
		}
	}
	m.suppressed.Add(1)
	return nil
}
