// Package bridge contains the composition root of the routing fabric.
//
// A Bridge owns a registry of modules (at most one per concrete type), the
// ordered list of active connectors and the listeners interested in handler
// and connector changes. It holds no dispatch logic of its own: Send and
// Handle are delegated to whichever registered module implements Sender and
// Receiver.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/logging"
)

// Connector is one transport endpoint bound to exactly one local bridge.
// Each method is called at most once per instance, in the order
// Start, Send*, Stop. Start must arrange for a matching connector on the
// remote bridge; Stop must tear that remote connector down again.
type Connector interface {
	Start(ctx context.Context, local *Bridge) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, evt event.Event) error
}

// Module is a pluggable unit of bridge behaviour.
type Module interface {
	// Add is called once the module is registered. Returning an error
	// unregisters it again.
	Add(b *Bridge) error
	// Remove is called before the module is unregistered.
	Remove() error
}

// Sender is the module Bridge.Send delegates to.
type Sender interface {
	Module
	Send(ctx context.Context, evt event.Event) error
}

// Receiver is the module Bridge.Handle delegates to. A nil source marks a
// locally originated event.
type Receiver interface {
	Module
	Handle(ctx context.Context, evt event.Event, source Connector) error
}

// ConnectorListener observes connectors joining and leaving a bridge.
type ConnectorListener interface {
	ConnectorAdded(ctx context.Context, c Connector)
	ConnectorRemoved(ctx context.Context, c Connector)
}

// HandlerListener observes handler predicates being registered on a bridge.
type HandlerListener interface {
	HandlerAdded(ctx context.Context, p event.Predicate)
	HandlerRemoved(ctx context.Context, p event.Predicate)
}

// PredicateSource is implemented by modules that register handlers. It
// returns every predicate currently registered, duplicates included.
type PredicateSource interface {
	Predicates() []event.Predicate
}

// Bridge routes events between its modules and connectors.
type Bridge struct {
	log logging.ServiceLogger

	mu                 sync.Mutex
	modules            atomic.Pointer[[]Module]
	connectors         atomic.Pointer[[]Connector]
	connectorListeners atomic.Pointer[[]ConnectorListener]
	handlerListeners   atomic.Pointer[[]HandlerListener]
	closed             atomic.Bool
}

// New returns an empty bridge. Use runtime.NewBridge for one with the
// default module set.
func New(log logging.ServiceLogger) *Bridge {
	b := &Bridge{log: logging.OrNop(log)}
	b.modules.Store(&[]Module{})
	b.connectors.Store(&[]Connector{})
	b.connectorListeners.Store(&[]ConnectorListener{})
	b.handlerListeners.Store(&[]HandlerListener{})
	return b
}

// Logger returns the bridge logger.
func (b *Bridge) Logger() logging.ServiceLogger {
	return b.log
}

// ModuleOf returns the first registered module assignable to T, in
// registration order.
func ModuleOf[T any](b *Bridge) (T, bool) {
	for _, m := range *b.modules.Load() {
		if typed, ok := m.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

// ModulesOf returns every registered module assignable to T.
func ModulesOf[T any](b *Bridge) []T {
	var out []T
	for _, m := range *b.modules.Load() {
		if typed, ok := m.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// Modules returns a snapshot of the registered modules.
func (b *Bridge) Modules() []Module {
	return append([]Module(nil), (*b.modules.Load())...)
}

// AddModule registers m and calls its Add hook. Only one module per concrete
// type may be registered.
func (b *Bridge) AddModule(m Module) error {
	if m == nil {
		return errspkg.ErrModuleRequired
	}
	if b.closed.Load() {
		return errspkg.ErrBridgeClosed
	}

	b.mu.Lock()
	current := *b.modules.Load()
	typ := reflect.TypeOf(m)
	for _, existing := range current {
		if reflect.TypeOf(existing) == typ {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", errspkg.ErrModuleExists, typ)
		}
	}
	next := append(append(make([]Module, 0, len(current)+1), current...), m)
	b.modules.Store(&next)
	b.mu.Unlock()

	if err := m.Add(b); err != nil {
		b.unregisterModule(m)
		return fmt.Errorf("add module %s: %w", typ, err)
	}
	b.log.Debug("Module added", logging.LogFields{"module": typ.String()})
	return nil
}

// RemoveModule calls m's Remove hook and unregisters it. The module is
// unregistered even when Remove fails; the failure is returned.
func (b *Bridge) RemoveModule(m Module) error {
	if m == nil {
		return errspkg.ErrModuleRequired
	}
	if !b.hasModule(m) {
		return fmt.Errorf("%w: %T", errspkg.ErrModuleNotFound, m)
	}
	defer b.unregisterModule(m)
	if err := m.Remove(); err != nil {
		return fmt.Errorf("remove module %T: %w", m, err)
	}
	b.log.Debug("Module removed", logging.LogFields{"module": fmt.Sprintf("%T", m)})
	return nil
}

func (b *Bridge) hasModule(m Module) bool {
	for _, existing := range *b.modules.Load() {
		if existing == m {
			return true
		}
	}
	return false
}

func (b *Bridge) unregisterModule(m Module) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.modules.Load()
	next := make([]Module, 0, len(current))
	for _, existing := range current {
		if existing != m {
			next = append(next, existing)
		}
	}
	b.modules.Store(&next)
}

// Connectors returns an order-preserving snapshot of the active connectors.
func (b *Bridge) Connectors() []Connector {
	return append([]Connector(nil), (*b.connectors.Load())...)
}

// AddConnector appends c and starts it. When Start fails c is rolled back
// out of the list and the error returned. On success connector listeners
// are notified while c is already visible in Connectors.
func (b *Bridge) AddConnector(ctx context.Context, c Connector) error {
	if c == nil {
		return errspkg.ErrConnectorRequired
	}
	if b.closed.Load() {
		return errspkg.ErrBridgeClosed
	}

	b.mu.Lock()
	current := *b.connectors.Load()
	for _, existing := range current {
		if existing == c {
			b.mu.Unlock()
			return errspkg.ErrConnectorExists
		}
	}
	next := append(append(make([]Connector, 0, len(current)+1), current...), c)
	b.connectors.Store(&next)
	b.mu.Unlock()

	if err := c.Start(ctx, b); err != nil {
		b.dropConnector(c)
		return fmt.Errorf("start connector %T: %w", c, err)
	}

	b.log.Debug("Connector added", connectorFields(c))
	for _, l := range *b.connectorListeners.Load() {
		l.ConnectorAdded(ctx, c)
	}
	return nil
}

// RemoveConnector notifies connector listeners, stops c and removes it from
// the list. c is removed even when Stop fails; the failure is returned.
func (b *Bridge) RemoveConnector(ctx context.Context, c Connector) error {
	if c == nil {
		return errspkg.ErrConnectorRequired
	}
	if !b.hasConnector(c) {
		return errspkg.ErrConnectorNotFound
	}

	for _, l := range *b.connectorListeners.Load() {
		l.ConnectorRemoved(ctx, c)
	}
	defer b.dropConnector(c)
	if err := c.Stop(ctx); err != nil {
		return fmt.Errorf("stop connector %T: %w", c, err)
	}
	b.log.Debug("Connector removed", connectorFields(c))
	return nil
}

func (b *Bridge) hasConnector(c Connector) bool {
	for _, existing := range *b.connectors.Load() {
		if existing == c {
			return true
		}
	}
	return false
}

func (b *Bridge) dropConnector(c Connector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.connectors.Load()
	next := make([]Connector, 0, len(current))
	for _, existing := range current {
		if existing != c {
			next = append(next, existing)
		}
	}
	b.connectors.Store(&next)
}

// AddConnectorListener registers l. Listeners are compared with ==.
func (b *Bridge) AddConnectorListener(l ConnectorListener) {
	addListener(&b.mu, &b.connectorListeners, l)
}

// RemoveConnectorListener unregisters l.
func (b *Bridge) RemoveConnectorListener(l ConnectorListener) {
	removeListener(&b.mu, &b.connectorListeners, l)
}

// AddHandlerListener registers l. Listeners are compared with ==.
func (b *Bridge) AddHandlerListener(l HandlerListener) {
	addListener(&b.mu, &b.handlerListeners, l)
}

// RemoveHandlerListener unregisters l.
func (b *Bridge) RemoveHandlerListener(l HandlerListener) {
	removeListener(&b.mu, &b.handlerListeners, l)
}

// NotifyHandlerAdded tells handler listeners that p was registered.
func (b *Bridge) NotifyHandlerAdded(ctx context.Context, p event.Predicate) {
	for _, l := range *b.handlerListeners.Load() {
		l.HandlerAdded(ctx, p)
	}
}

// NotifyHandlerRemoved tells handler listeners that p was unregistered.
func (b *Bridge) NotifyHandlerRemoved(ctx context.Context, p event.Predicate) {
	for _, l := range *b.handlerListeners.Load() {
		l.HandlerRemoved(ctx, p)
	}
}

// Predicates collects the predicates of every PredicateSource module.
func (b *Bridge) Predicates() []event.Predicate {
	var out []event.Predicate
	for _, src := range ModulesOf[PredicateSource](b) {
		out = append(out, src.Predicates()...)
	}
	return out
}

// Send dispatches evt through the Sender module.
func (b *Bridge) Send(ctx context.Context, evt event.Event) error {
	if evt == nil {
		return errspkg.ErrEventRequired
	}
	if b.closed.Load() {
		return errspkg.ErrBridgeClosed
	}
	sender, ok := ModuleOf[Sender](b)
	if !ok {
		return fmt.Errorf("%w: sender", errspkg.ErrModuleMissing)
	}
	return sender.Send(ctx, evt)
}

// Handle dispatches an inbound evt through the Receiver module. source is the
// connector evt arrived on, or nil for locally originated events.
func (b *Bridge) Handle(ctx context.Context, evt event.Event, source Connector) error {
	if evt == nil {
		return errspkg.ErrEventRequired
	}
	if b.closed.Load() {
		return errspkg.ErrBridgeClosed
	}
	receiver, ok := ModuleOf[Receiver](b)
	if !ok {
		return fmt.Errorf("%w: receiver", errspkg.ErrModuleMissing)
	}
	return receiver.Handle(ctx, evt, source)
}

// Closed reports whether Close was called.
func (b *Bridge) Closed() bool {
	return b.closed.Load()
}

// Close removes every connector, newest first, then every module in reverse
// registration order. Afterwards the bridge rejects new modules, connectors
// and events with ErrBridgeClosed.
func (b *Bridge) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return errspkg.ErrBridgeClosed
	}

	var errs []error
	connectors := b.Connectors()
	for i := len(connectors) - 1; i >= 0; i-- {
		err := b.RemoveConnector(ctx, connectors[i])
		if err != nil && !errors.Is(err, errspkg.ErrConnectorNotFound) {
			errs = append(errs, err)
		}
	}
	modules := b.Modules()
	for i := len(modules) - 1; i >= 0; i-- {
		if err := b.RemoveModule(modules[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.log.Error("Bridge closed with errors", err, nil)
		return err
	}
	b.log.Debug("Bridge closed", nil)
	return nil
}

func connectorFields(c Connector) logging.LogFields {
	return logging.LogFields{"connector": fmt.Sprintf("%T@%p", c, c)}
}

func addListener[L comparable](mu *sync.Mutex, list *atomic.Pointer[[]L], l L) {
	mu.Lock()
	defer mu.Unlock()
	current := *list.Load()
	next := append(append(make([]L, 0, len(current)+1), current...), l)
	list.Store(&next)
}

func removeListener[L comparable](mu *sync.Mutex, list *atomic.Pointer[[]L], l L) {
	mu.Lock()
	defer mu.Unlock()
	current := *list.Load()
	next := make([]L, 0, len(current))
	for _, existing := range current {
		if existing != l {
			next = append(next, existing)
		}
	}
	list.Store(&next)
}
