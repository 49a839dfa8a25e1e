// Package codec turns events into named byte payloads and back so bridges in
// different processes can exchange them over a broker.
//
// Every event type that crosses a process boundary is registered under a
// stable name. Plain Go values are encoded as JSON with sonic, protobuf
// messages with protojson. Request envelopes and interest updates are built
// in; their payloads and predicates are encoded recursively.
package codec

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
)

var (
	protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

	protoJSONMarshalOptions = protojson.MarshalOptions{
		EmitUnpopulated: true,
	}
	protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
		DiscardUnknown: true,
	}
)

type entry struct {
	name   string
	typ    reflect.Type
	typeOf event.Predicate
	encode func(c *Codec, evt event.Event) ([]byte, error)
	decode func(c *Codec, data []byte) (event.Event, error)
}

// Codec is a registry of event types that can be encoded. It is safe for
// concurrent use.
type Codec struct {
	mu     sync.RWMutex
	byName map[string]*entry
	byType map[reflect.Type]*entry
}

// New returns a codec that already knows request envelopes and interest
// updates.
func New() *Codec {
	c := &Codec{
		byName: make(map[string]*entry),
		byType: make(map[reflect.Type]*entry),
	}
	c.registerBuiltins()
	return c
}

// Register makes events of type T encodable under name. Types implementing
// proto.Message use protojson, everything else JSON.
func Register[T any](c *Codec, name string) error {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Implements(protoMessageType) {
		if typ.Kind() != reflect.Pointer {
			return fmt.Errorf("codec: proto type %s must be a pointer", typ)
		}
		return RegisterFunc(c, name, encodeProto[T], decodeProto[T](typ))
	}
	return RegisterFunc(c, name, encodeJSON[T], decodeJSON[T])
}

// RegisterFunc makes events of type T encodable under name with custom
// functions.
func RegisterFunc[T any](c *Codec, name string, enc func(T) ([]byte, error), dec func([]byte) (T, error)) error {
	if enc == nil || dec == nil {
		return fmt.Errorf("codec: encode and decode functions are required for %q", name)
	}
	return c.add(&entry{
		name:   name,
		typ:    reflect.TypeOf((*T)(nil)).Elem(),
		typeOf: event.TypeOf[T](),
		encode: func(_ *Codec, evt event.Event) ([]byte, error) {
			typed, ok := evt.(T)
			if !ok {
				return nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownEventType, evt)
			}
			return enc(typed)
		},
		decode: func(_ *Codec, data []byte) (event.Event, error) {
			return dec(data)
		},
	})
}

// MustRegister is Register that panics, for package level setup.
func MustRegister[T any](c *Codec, name string) {
	if err := Register[T](c, name); err != nil {
		panic(err)
	}
}

func (c *Codec) add(e *entry) error {
	if e.name == "" {
		return fmt.Errorf("codec: event name is required for %s", e.typ)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byName[e.name]; ok {
		return fmt.Errorf("codec: name %q already used by %s", e.name, existing.typ)
	}
	if existing, ok := c.byType[e.typ]; ok {
		return fmt.Errorf("codec: type %s already registered as %q", e.typ, existing.name)
	}
	c.byName[e.name] = e
	c.byType[e.typ] = e
	return nil
}

func (c *Codec) lookupType(typ reflect.Type) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byType[typ]
	return e, ok
}

func (c *Codec) lookupName(name string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byName[name]
	return e, ok
}

// NameOf returns the name evt is registered under.
func (c *Codec) NameOf(evt event.Event) (string, bool) {
	if evt == nil {
		return "", false
	}
	e, ok := c.lookupType(reflect.TypeOf(evt))
	if !ok {
		return "", false
	}
	return e.name, true
}

// Names lists every registered name in sorted order.
func (c *Codec) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode returns the registered name of evt and its payload.
func (c *Codec) Encode(evt event.Event) (string, []byte, error) {
	if evt == nil {
		return "", nil, errspkg.ErrEventRequired
	}
	e, ok := c.lookupType(reflect.TypeOf(evt))
	if !ok {
		return "", nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownEventType, evt)
	}
	data, err := e.encode(c, evt)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.name, err)
	}
	return e.name, data, nil
}

// Decode rebuilds the event registered under name.
func (c *Codec) Decode(name string, data []byte) (event.Event, error) {
	e, ok := c.lookupName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, name)
	}
	evt, err := e.decode(c, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return evt, nil
}

func encodeProto[T any](evt T) ([]byte, error) {
	msg, ok := any(evt).(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownEventType, evt)
	}
	return protoJSONMarshalOptions.Marshal(msg)
}

func decodeProto[T any](typ reflect.Type) func([]byte) (T, error) {
	return func(data []byte) (T, error) {
		var zero T
		inst := reflect.New(typ.Elem()).Interface()
		msg, ok := inst.(proto.Message)
		if !ok {
			return zero, fmt.Errorf("unexpected prototype type %s", typ)
		}
		if err := protoJSONUnmarshalOptions.Unmarshal(data, msg); err != nil {
			return zero, err
		}
		typed, ok := inst.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected prototype type %s", typ)
		}
		return typed, nil
	}
}
