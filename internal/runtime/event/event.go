// Package event defines the opaque event payloads routed by a bridge, the
// predicates that select them and the typed handlers that consume them.
//
// Events are immutable values of any type. The routing core only inspects
// them through predicates and checked type assertions: an event whose type
// does not fit a predicate or handler is simply "not matching".
package event

import (
	"context"
	"reflect"
)

// Event is an immutable payload. It must not be mutated after it was sent
// because several handlers and connectors may read it concurrently.
type Event = any

// Predicate is a pure test over events of one declared type. Predicates are
// compared by value (see Equal) when registrations are added or removed and
// when interest is synchronized across connectors.
type Predicate interface {
	// Test reports whether the event matches. It is only called with events
	// assignable to EventType.
	Test(evt Event) bool
	// EventType is the type of event the predicate understands.
	EventType() reflect.Type
}

// Equaler lets predicates that are not comparable with == define their own
// structural equality.
type Equaler interface {
	Equal(other Predicate) bool
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// Accepts reports whether evt can be handed to something declared for typ.
func Accepts(typ reflect.Type, evt Event) bool {
	if evt == nil || typ == nil {
		return false
	}
	return reflect.TypeOf(evt).AssignableTo(typ)
}

// Apply evaluates p against evt. A type mismatch yields false instead of a
// failure.
func Apply(p Predicate, evt Event) bool {
	if p == nil || !Accepts(p.EventType(), evt) {
		return false
	}
	return p.Test(evt)
}

// Equal reports whether two predicates are structurally equal. An Equal
// method wins; otherwise the values are compared with Same.
func Equal(a, b Predicate) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if eq, ok := a.(Equaler); ok {
		return eq.Equal(b)
	}
	return Same(a, b)
}

// Same compares two values with Go equality. Values whose dynamic type is not
// comparable (funcs, maps, slices) never compare equal, so handlers and
// interceptors of such types should be registered as pointers to be found
// again.
func Same(a, b any) (equal bool) {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if !ta.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}

// TypeOf returns a predicate matching every event of type T. Two TypeOf
// predicates of the same T are equal.
func TypeOf[T any]() Predicate {
	return typePredicate[T]{}
}

type typePredicate[T any] struct{}

func (typePredicate[T]) Test(evt Event) bool {
	_, ok := evt.(T)
	return ok
}

func (typePredicate[T]) EventType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Any returns a predicate matching every event.
func Any() Predicate {
	return anyPredicate{}
}

type anyPredicate struct{}

func (anyPredicate) Test(Event) bool         { return true }
func (anyPredicate) EventType() reflect.Type { return anyType }

// Match returns a predicate over events of type T backed by fn. Functions
// cannot be compared, so name is the predicate's identity: two Match
// predicates are equal when they share T and name.
func Match[T any](name string, fn func(T) bool) Predicate {
	return &matchPredicate[T]{name: name, fn: fn}
}

type matchPredicate[T any] struct {
	name string
	fn   func(T) bool
}

func (m *matchPredicate[T]) Test(evt Event) bool {
	typed, ok := evt.(T)
	if !ok {
		return false
	}
	if m.fn == nil {
		return true
	}
	return m.fn(typed)
}

func (m *matchPredicate[T]) EventType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (m *matchPredicate[T]) Equal(other Predicate) bool {
	o, ok := other.(*matchPredicate[T])
	return ok && o.name == m.name
}

// Name returns the identity given to Match.
func (m *matchPredicate[T]) Name() string {
	return m.name
}

// Not inverts p. The result still only accepts events of p's type.
func Not(p Predicate) Predicate {
	return notPredicate{inner: p}
}

type notPredicate struct {
	inner Predicate
}

func (n notPredicate) Test(evt Event) bool {
	return !n.inner.Test(evt)
}

func (n notPredicate) EventType() reflect.Type {
	return n.inner.EventType()
}

func (n notPredicate) Equal(other Predicate) bool {
	o, ok := other.(notPredicate)
	return ok && Equal(n.inner, o.inner)
}

// Negation returns the predicate p inverts when p was built by Not.
func Negation(p Predicate) (Predicate, bool) {
	n, ok := p.(notPredicate)
	if !ok {
		return nil, false
	}
	return n.inner, true
}

// Handler consumes events of type T. It runs synchronously on the
// dispatching goroutine and must not retain the event after returning unless
// it copies it.
type Handler[T any] interface {
	Handle(ctx context.Context, evt T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, evt T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, evt T) error {
	return f(ctx, evt)
}

// AnyHandler is a Handler with its event type erased so handlers for
// different types can share one registry.
type AnyHandler interface {
	EventType() reflect.Type
	HandleEvent(ctx context.Context, evt Event) error
}

// Typed erases h. The returned value is a pointer and therefore compared
// by identity; keep it to remove the registration later.
func Typed[T any](h Handler[T]) AnyHandler {
	return &typedHandler[T]{inner: h}
}

// TypedFunc is Typed for a plain function.
func TypedFunc[T any](fn func(ctx context.Context, evt T) error) AnyHandler {
	return Typed[T](HandlerFunc[T](fn))
}

type typedHandler[T any] struct {
	inner Handler[T]
}

func (h *typedHandler[T]) EventType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// HandleEvent calls the wrapped handler, skipping events of another type.
func (h *typedHandler[T]) HandleEvent(ctx context.Context, evt Event) error {
	typed, ok := evt.(T)
	if !ok {
		return nil
	}
	return h.inner.Handle(ctx, typed)
}
