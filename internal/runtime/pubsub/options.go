// Package pubsub connects bridges in different processes over any Watermill
// publisher and subscriber pair.
//
// A node that accepts links installs an Acceptor module, which listens on
// the node's connect topic. A node that wants to reach it adds a Connector
// naming the remote node. Every link gets its own pair of inbox topics:
//
//	<prefix>.<node>.connect   hello frames for node
//	<prefix>.link.<id>.a      frames towards the dialing side
//	<prefix>.link.<id>.b      frames towards the accepting side
//
// Starting a dialing connector publishes hello and waits for welcome; the
// acceptor answers by adding the accepting side to its own bridge. Stopping
// either side publishes bye, which removes the other side from its bridge.
// This gives broker links the same symmetric lifecycle as local connectors.
package pubsub

import (
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/eventbridge/internal/runtime/codec"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/logging"
)

const (
	DefaultTopicPrefix      = "eventbridge"
	DefaultHandshakeTimeout = 5 * time.Second
)

// Options configures connectors and acceptors. Publisher, Subscriber, Codec
// and Node are required.
type Options struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Codec      *codec.Codec

	// Node names the local bridge. Acceptors listen on its connect topic.
	Node        string
	TopicPrefix string

	HandshakeTimeout time.Duration
	// MaxMessageSize rejects larger encoded events before publishing. Zero
	// disables the check.
	MaxMessageSize int64
	Logger         logging.ServiceLogger
	// Propagator carries trace context across the broker. Defaults to the
	// global otel propagator.
	Propagator propagation.TextMapPropagator
}

func (o Options) withDefaults() (Options, error) {
	if o.Publisher == nil {
		return o, errspkg.ErrPublisherRequired
	}
	if o.Subscriber == nil {
		return o, errspkg.ErrSubscriberRequired
	}
	if o.Codec == nil {
		return o, errspkg.ErrCodecRequired
	}
	if strings.TrimSpace(o.Node) == "" {
		return o, fmt.Errorf("pubsub: node name is required")
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Propagator == nil {
		o.Propagator = otel.GetTextMapPropagator()
	}
	o.Logger = logging.OrNop(o.Logger)
	return o, nil
}

// ConnectTopic is the topic node's acceptor listens on.
func ConnectTopic(prefix, node string) string {
	return prefix + "." + node + ".connect"
}

func inboxTopic(prefix, link string, dialer bool) string {
	side := "b"
	if dialer {
		side = "a"
	}
	return prefix + ".link." + link + "." + side
}
