// Package request correlates one-shot request events with their returns on
// top of the one-way event pipelines.
//
// A requester wraps its event in an Envelope carrying a fresh correlation id
// and sends it like any other event. A returner's handler receives the
// unwrapped payload together with a ReturnSender bound to the id and origin;
// the return travels back as an Envelope with IsRequest unset and is matched
// against the requester's pending table.
package request

import (
	"context"
	"reflect"

	"github.com/drblury/eventbridge/internal/runtime/event"
)

// Envelope carries a request or return payload and its correlation id.
type Envelope struct {
	Payload   event.Event
	ID        uint64
	IsRequest bool
}

// ReturnHandler receives the return of one request.
type ReturnHandler interface {
	HandleReturn(ctx context.Context, evt event.Event) error
}

// ReturnHandlerFunc adapts a function to ReturnHandler.
type ReturnHandlerFunc func(ctx context.Context, evt event.Event) error

func (f ReturnHandlerFunc) HandleReturn(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// ReturnSender sends the return for exactly one request.
type ReturnSender interface {
	SendReturn(ctx context.Context, evt event.Event) error
	// ID is the correlation id of the request being answered.
	ID() uint64
}

// RequestHandler answers requests.
type RequestHandler interface {
	EventType() reflect.Type
	HandleRequest(ctx context.Context, evt event.Event, ret ReturnSender) error
}

// Typed wraps fn as a RequestHandler for payloads of type T. Payloads of
// another type are skipped silently.
func Typed[T any](fn func(ctx context.Context, evt T, ret ReturnSender) error) RequestHandler {
	return &typedRequestHandler[T]{fn: fn}
}

type typedRequestHandler[T any] struct {
	fn func(ctx context.Context, evt T, ret ReturnSender) error
}

func (h *typedRequestHandler[T]) EventType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (h *typedRequestHandler[T]) HandleRequest(ctx context.Context, evt event.Event, ret ReturnSender) error {
	typed, ok := evt.(T)
	if !ok {
		return nil
	}
	return h.fn(ctx, typed, ret)
}

// Requests returns the predicate matching request envelopes whose payload is
// accepted by inner. Returners advertise it so selective forwarding keeps
// requests flowing towards them.
func Requests(inner event.Predicate) event.Predicate {
	return requestPredicate{inner: inner}
}

// Inner returns the payload predicate of a predicate built by Requests.
func Inner(p event.Predicate) (event.Predicate, bool) {
	rp, ok := p.(requestPredicate)
	if !ok {
		return nil, false
	}
	return rp.inner, true
}

type requestPredicate struct {
	inner event.Predicate
}

var envelopeType = reflect.TypeOf(Envelope{})

func (r requestPredicate) Test(evt event.Event) bool {
	env, ok := evt.(Envelope)
	return ok && env.IsRequest && event.Apply(r.inner, env.Payload)
}

func (requestPredicate) EventType() reflect.Type {
	return envelopeType
}

func (r requestPredicate) Equal(other event.Predicate) bool {
	o, ok := other.(requestPredicate)
	return ok && event.Equal(r.inner, o.inner)
}
