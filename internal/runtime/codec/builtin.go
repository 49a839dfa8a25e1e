package codec

import (
	"fmt"
	"reflect"

	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/interest"
	"github.com/drblury/eventbridge/internal/runtime/request"
)

// Names of the built-in events.
const (
	EnvelopeName = "eventbridge.envelope"
	UpdateName   = "eventbridge.interest"
)

type wireEnvelope struct {
	ID        uint64 `json:"id"`
	IsRequest bool   `json:"request"`
	Type      string `json:"type"`
	Payload   []byte `json:"payload"`
}

type wireUpdate struct {
	Op         string          `json:"op"`
	Predicates []WirePredicate `json:"predicates"`
}

func (c *Codec) registerBuiltins() {
	builtins := []*entry{
		{
			name:   EnvelopeName,
			typ:    reflect.TypeOf(request.Envelope{}),
			typeOf: event.TypeOf[request.Envelope](),
			encode: encodeEnvelope,
			decode: decodeEnvelope,
		},
		{
			name:   UpdateName,
			typ:    reflect.TypeOf(interest.Update{}),
			typeOf: event.TypeOf[interest.Update](),
			encode: encodeUpdate,
			decode: decodeUpdate,
		},
	}
	for _, e := range builtins {
		if err := c.add(e); err != nil {
			panic(err)
		}
	}
}

func encodeEnvelope(c *Codec, evt event.Event) ([]byte, error) {
	env, ok := evt.(request.Envelope)
	if !ok {
		return nil, fmt.Errorf("expected request envelope, got %T", evt)
	}
	name, payload, err := c.Encode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return Marshal(wireEnvelope{ID: env.ID, IsRequest: env.IsRequest, Type: name, Payload: payload})
}

func decodeEnvelope(c *Codec, data []byte) (event.Event, error) {
	var w wireEnvelope
	if err := Unmarshal(data, &w); err != nil {
		return nil, err
	}
	payload, err := c.Decode(w.Type, w.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return request.Envelope{Payload: payload, ID: w.ID, IsRequest: w.IsRequest}, nil
}

func encodeUpdate(c *Codec, evt event.Event) ([]byte, error) {
	update, ok := evt.(interest.Update)
	if !ok {
		return nil, fmt.Errorf("expected interest update, got %T", evt)
	}
	return Marshal(wireUpdate{Op: update.Op.String(), Predicates: c.EncodePredicates(update.Predicates)})
}

func decodeUpdate(c *Codec, data []byte) (event.Event, error) {
	var w wireUpdate
	if err := Unmarshal(data, &w); err != nil {
		return nil, err
	}
	var op interest.Op
	switch w.Op {
	case interest.OpAdd.String():
		op = interest.OpAdd
	case interest.OpRemove.String():
		op = interest.OpRemove
	default:
		return nil, fmt.Errorf("unknown interest op %q", w.Op)
	}
	return interest.Update{Predicates: c.DecodePredicates(w.Predicates), Op: op}, nil
}
