// Package metadata defines the headers carried by every broker message the
// pubsub connector exchanges.
package metadata

// Reserved header keys.
const (
	KeyKind      = "eventbridge_kind"
	KeyEventType = "eventbridge_event_type"
	KeyLink      = "eventbridge_link"
	KeyNode      = "eventbridge_node"
)

// Frame kinds. hello, welcome and bye drive the link handshake; event
// frames carry an encoded event.
const (
	KindHello   = "hello"
	KindWelcome = "welcome"
	KindBye     = "bye"
	KindEvent   = "event"
)

// Metadata represents the headers carried alongside an encoded event.
type Metadata map[string]string

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

func (m Metadata) Kind() string      { return m[KeyKind] }
func (m Metadata) EventType() string { return m[KeyEventType] }
func (m Metadata) Link() string      { return m[KeyLink] }
func (m Metadata) Node() string      { return m[KeyNode] }
