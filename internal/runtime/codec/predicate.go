package codec

import (
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/request"
)

// Predicate kinds on the wire.
const (
	KindAny     = "any"
	KindType    = "type"
	KindNot     = "not"
	KindRequest = "request"
)

// WirePredicate is the encodable form of a predicate.
type WirePredicate struct {
	Kind  string         `json:"kind"`
	Event string         `json:"event,omitempty"`
	Inner *WirePredicate `json:"inner,omitempty"`
}

// EncodePredicate converts p to its wire form. Predicates that cannot be
// expressed exactly, such as Match with its function, are replaced by a
// superset: TypeOf their event type when that type is registered, Any
// otherwise. exact reports whether that happened.
//
// A superset only makes the peer forward more than needed, never less.
func (c *Codec) EncodePredicate(p event.Predicate) (w WirePredicate, exact bool) {
	if inner, ok := request.Inner(p); ok {
		// A wider payload predicate still yields a wider request predicate.
		w, exact := c.EncodePredicate(inner)
		return WirePredicate{Kind: KindRequest, Inner: &w}, exact
	}
	if w, ok := c.encodeExact(p); ok {
		return w, true
	}
	return c.superset(p), false
}

func (c *Codec) encodeExact(p event.Predicate) (WirePredicate, bool) {
	if p == nil {
		return WirePredicate{}, false
	}
	if event.Equal(p, event.Any()) {
		return WirePredicate{Kind: KindAny}, true
	}
	if inner, ok := event.Negation(p); ok {
		w, exact := c.encodeExact(inner)
		if !exact {
			return WirePredicate{}, false
		}
		return WirePredicate{Kind: KindNot, Inner: &w}, true
	}
	if inner, ok := request.Inner(p); ok {
		w, exact := c.encodeExact(inner)
		if !exact {
			return WirePredicate{}, false
		}
		return WirePredicate{Kind: KindRequest, Inner: &w}, true
	}
	if e, ok := c.lookupType(p.EventType()); ok && event.Equal(p, e.typeOf) {
		return WirePredicate{Kind: KindType, Event: e.name}, true
	}
	return WirePredicate{}, false
}

func (c *Codec) superset(p event.Predicate) WirePredicate {
	if p != nil {
		if e, ok := c.lookupType(p.EventType()); ok {
			return WirePredicate{Kind: KindType, Event: e.name}
		}
	}
	return WirePredicate{Kind: KindAny}
}

// DecodePredicate rebuilds a predicate. Kinds or event names this codec does
// not know decode to a superset as well, so exact is false.
func (c *Codec) DecodePredicate(w WirePredicate) (p event.Predicate, exact bool) {
	switch w.Kind {
	case KindAny:
		return event.Any(), true
	case KindType:
		if e, ok := c.lookupName(w.Event); ok {
			return e.typeOf, true
		}
	case KindNot:
		if w.Inner != nil {
			if inner, exact := c.DecodePredicate(*w.Inner); exact {
				return event.Not(inner), true
			}
		}
	case KindRequest:
		if w.Inner != nil {
			inner, exact := c.DecodePredicate(*w.Inner)
			return request.Requests(inner), exact
		}
	}
	return event.Any(), false
}

// EncodePredicates converts every predicate of ps.
func (c *Codec) EncodePredicates(ps []event.Predicate) []WirePredicate {
	out := make([]WirePredicate, 0, len(ps))
	for _, p := range ps {
		w, _ := c.EncodePredicate(p)
		out = append(out, w)
	}
	return out
}

// DecodePredicates rebuilds every predicate of ws.
func (c *Codec) DecodePredicates(ws []WirePredicate) []event.Predicate {
	out := make([]event.Predicate, 0, len(ws))
	for _, w := range ws {
		p, _ := c.DecodePredicate(w)
		out = append(out, p)
	}
	return out
}
