package eventbridge

import (
	"context"
	"fmt"
	"reflect"

	runtimepkg "github.com/drblury/eventbridge/internal/runtime"
	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/codec"
	configpkg "github.com/drblury/eventbridge/internal/runtime/config"
	"github.com/drblury/eventbridge/internal/runtime/connector"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/interest"
	loggingpkg "github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/observe"
	"github.com/drblury/eventbridge/internal/runtime/pubsub"
	"github.com/drblury/eventbridge/internal/runtime/request"
	"github.com/drblury/eventbridge/transport"
)

type (
	Config       = configpkg.Config
	Bridge       = runtimepkg.Bridge
	Dependencies = runtimepkg.Dependencies

	Event      = event.Event
	Predicate  = event.Predicate
	AnyHandler = event.AnyHandler

	Handler[T any]     = event.Handler[T]
	HandlerFunc[T any] = event.HandlerFunc[T]

	Connector         = bridge.Connector
	Module            = bridge.Module
	ConnectorListener = bridge.ConnectorListener
	HandlerListener   = bridge.HandlerListener
	LocalConnector    = connector.Local

	Codec           = codec.Codec
	PubSubOptions   = pubsub.Options
	PubSubConnector = pubsub.Connector
	Acceptor        = pubsub.Acceptor

	ReturnSender   = request.ReturnSender
	RequestHandler = request.RequestHandler
	InterestUpdate = interest.Update

	Hooks           = observe.Hooks
	DispatchContext = observe.DispatchContext
	Stage           = observe.Stage

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	ConfigValidationError = errspkg.ConfigValidationError
	TransportError        = errspkg.TransportError
	HandlerPanicError     = errspkg.HandlerPanicError
)

var (
	NewBridge      = runtimepkg.NewBridge
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.FromFile

	NewCodec = codec.New

	Any = event.Any
	Not = event.Not

	DialPubSub  = pubsub.Dial
	NewAcceptor = pubsub.NewAcceptor

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.Nop

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	ErrModuleMissing       = errspkg.ErrModuleMissing
	ErrBridgeClosed        = errspkg.ErrBridgeClosed
	ErrEventRequired       = errspkg.ErrEventRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrHandlerExists       = errspkg.ErrHandlerExists
	ErrUnknownEventType    = errspkg.ErrUnknownEventType
	ErrHandshakeTimeout    = errspkg.ErrHandshakeTimeout
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrMessageTooLarge     = errspkg.ErrMessageTooLarge
	ErrUnknownTransport    = errspkg.ErrUnknownTransport
	ErrConnectorNotStarted = errspkg.ErrConnectorNotStarted
)

const (
	StageSend    = observe.StageSend
	StageHandle  = observe.StageHandle
	StageDeliver = observe.StageDeliver
)

// TypeOf matches every event of type T.
func TypeOf[T any]() Predicate {
	return event.TypeOf[T]()
}

// Match matches events of type T for which fn returns true. Predicates with
// the same type and name are equal.
func Match[T any](name string, fn func(T) bool) Predicate {
	return event.Match(name, fn)
}

// RegisterEvent names T on c so it can cross broker links.
func RegisterEvent[T any](c *Codec, name string) error {
	return codec.Register[T](c, name)
}

// Subscription removes the handler it was returned for.
type Subscription func(ctx context.Context) bool

// Subscribe registers fn for every event of type T. Pass predicates to
// narrow the events further; they must all accept T.
func Subscribe[T any](ctx context.Context, b *Bridge, fn func(ctx context.Context, evt T) error, preds ...Predicate) (Subscription, error) {
	if b == nil || b.Standard == nil {
		return nil, fmt.Errorf("%w: standard handler", errspkg.ErrModuleMissing)
	}
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	h := event.TypedFunc(fn)
	p := predicateFor[T](preds)
	if err := b.Standard.Register(ctx, h, p); err != nil {
		return nil, err
	}
	return func(ctx context.Context) bool {
		return b.Standard.Unregister(ctx, h, p)
	}, nil
}

// SubscribeRequests answers requests of type T with the result of fn. The
// bridge must be built with RequestResponse enabled.
func SubscribeRequests[T, R any](ctx context.Context, b *Bridge, fn func(ctx context.Context, req T) (R, error), preds ...Predicate) (Subscription, error) {
	if b == nil || b.Returner == nil {
		return nil, fmt.Errorf("%w: returner", errspkg.ErrModuleMissing)
	}
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	h := request.Typed(func(ctx context.Context, req T, ret request.ReturnSender) error {
		res, err := fn(ctx, req)
		if err != nil {
			return err
		}
		return ret.SendReturn(ctx, res)
	})
	p := predicateFor[T](preds)
	if err := b.Returner.Register(ctx, h, p); err != nil {
		return nil, err
	}
	return func(ctx context.Context) bool {
		return b.Returner.Unregister(ctx, h, p)
	}, nil
}

func predicateFor[T any](preds []Predicate) Predicate {
	switch len(preds) {
	case 0:
		return event.TypeOf[T]()
	case 1:
		return preds[0]
	default:
		return allOf[T](preds)
	}
}

// allOf accepts events of type T that every predicate accepts.
type allOf[T any] []Predicate

func (a allOf[T]) Test(evt Event) bool {
	for _, p := range a {
		if !event.Apply(p, evt) {
			return false
		}
	}
	return true
}

func (allOf[T]) EventType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (a allOf[T]) Equal(other Predicate) bool {
	o, ok := other.(allOf[T])
	if !ok || len(o) != len(a) {
		return false
	}
	for i := range a {
		if !event.Equal(a[i], o[i]) {
			return false
		}
	}
	return true
}

// Publish sends evt through b.
func Publish(ctx context.Context, b *Bridge, evt Event) error {
	if b == nil {
		return errspkg.ErrBridgeRequired
	}
	return b.Send(ctx, evt)
}

// Request sends req and waits for a return of type R until ctx is done.
func Request[R any](ctx context.Context, b *Bridge, req Event) (R, error) {
	var zero R
	if b == nil || b.Requester == nil {
		return zero, fmt.Errorf("%w: requester", errspkg.ErrModuleMissing)
	}
	ret, err := request.Await(ctx, b.Requester, req)
	if err != nil {
		return zero, err
	}
	typed, ok := ret.(R)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", errspkg.ErrUnknownEventType, ret, zero)
	}
	return typed, nil
}

// Connect links two bridges in the same process. Removing the returned
// connector from a, or closing either bridge, unlinks both sides.
func Connect(ctx context.Context, a, b *Bridge) (*LocalConnector, error) {
	if a == nil || b == nil {
		return nil, errspkg.ErrBridgeRequired
	}
	c := connector.NewLocal(b.Bridge)
	if err := a.AddConnector(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Use installs modules on b in order.
func Use(b *Bridge, mods ...Module) error {
	return modules.Install(b.Bridge, mods...)
}
