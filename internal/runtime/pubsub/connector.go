package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/connector"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/ids"
	"github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/metadata"
)

// Connector is one side of a broker link.
type Connector struct {
	connector.Lifecycle

	opts   Options
	remote string
	dialer bool
	log    logging.ServiceLogger

	link    string
	release func()

	cancel   context.CancelFunc
	done     chan struct{}
	welcome  chan struct{}
	welcomed sync.Once
	peerGone atomic.Bool
}

// Dial returns a connector that links the local bridge with the acceptor of
// the remote node once added to a bridge.
func Dial(opts Options, remote string) (*Connector, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(remote) == "" {
		return nil, errspkg.ErrRemoteRequired
	}
	return newConnector(opts, remote, ids.New(), true), nil
}

func newConnector(opts Options, remote, link string, dialer bool) *Connector {
	return &Connector{
		opts:    opts,
		remote:  remote,
		dialer:  dialer,
		link:    link,
		log:     opts.Logger.With(logging.LogFields{"remote_node": remote, "link": link}),
		done:    make(chan struct{}),
		welcome: make(chan struct{}),
	}
}

// Remote names the node on the other side.
func (c *Connector) Remote() string {
	return c.remote
}

// Link returns the id shared by both sides of the link.
func (c *Connector) Link() string {
	return c.link
}

func (c *Connector) inbox() string {
	return inboxTopic(c.opts.TopicPrefix, c.link, c.dialer)
}

func (c *Connector) outbox() string {
	return inboxTopic(c.opts.TopicPrefix, c.link, !c.dialer)
}

// Start subscribes to the link inbox and completes the handshake. A dialing
// connector fails with ErrHandshakeTimeout when the remote acceptor does not
// answer in time.
func (c *Connector) Start(ctx context.Context, b *bridge.Bridge) error {
	if err := c.Begin(b); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	messages, err := c.opts.Subscriber.Subscribe(runCtx, c.inbox())
	if err != nil {
		close(c.done)
		c.abort()
		return fmt.Errorf("subscribe %s: %w", c.inbox(), err)
	}
	go c.consume(runCtx, b, messages)

	if !c.dialer {
		if err := c.publish(ctx, c.outbox(), c.frame(metadata.KindWelcome), nil); err != nil {
			c.abort()
			return fmt.Errorf("send welcome: %w", err)
		}
		return nil
	}

	hello := c.frame(metadata.KindHello)
	if err := c.publish(ctx, ConnectTopic(c.opts.TopicPrefix, c.remote), hello, nil); err != nil {
		c.abort()
		return fmt.Errorf("send hello: %w", err)
	}

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-c.welcome:
		c.log.Debug("Link established", nil)
		return nil
	case <-timer.C:
		c.abort()
		return fmt.Errorf("%w: %s after %s", errspkg.ErrHandshakeTimeout, c.remote, c.opts.HandshakeTimeout)
	case <-ctx.Done():
		c.abort()
		return ctx.Err()
	}
}

func (c *Connector) abort() {
	c.cancel()
	<-c.done
	c.Fail()
	if c.release != nil {
		c.release()
	}
}

// consumeKey marks contexts handed to handlers by the consume loop.
type consumeKey struct{}

// Stop tells the peer to detach and ends the consume loop. When the peer
// stopped first nothing is published. Called with a context from a handler
// of this link, Stop returns without waiting for the loop to finish.
func (c *Connector) Stop(ctx context.Context) error {
	if _, err := c.End(); err != nil {
		return err
	}
	if c.release != nil {
		defer c.release()
	}

	var err error
	if !c.peerGone.Load() {
		if pubErr := c.publish(ctx, c.outbox(), c.frame(metadata.KindBye), nil); pubErr != nil {
			err = fmt.Errorf("send bye: %w", pubErr)
		}
	}
	c.cancel()
	if ctx.Value(consumeKey{}) == c {
		return err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// Send encodes evt and publishes it to the peer's inbox.
func (c *Connector) Send(ctx context.Context, evt event.Event) error {
	if _, err := c.Bridge(); err != nil {
		return err
	}
	name, payload, err := c.opts.Codec.Encode(evt)
	if err != nil {
		return err
	}
	if limit := c.opts.MaxMessageSize; limit > 0 && int64(len(payload)) > limit {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", errspkg.ErrMessageTooLarge, name, len(payload), limit)
	}
	md := c.frame(metadata.KindEvent).With(metadata.KeyEventType, name)
	c.opts.Propagator.Inject(ctx, propagation.MapCarrier(md))
	return c.publish(ctx, c.outbox(), md, payload)
}

func (c *Connector) frame(kind string) metadata.Metadata {
	return metadata.New(
		metadata.KeyKind, kind,
		metadata.KeyLink, c.link,
		metadata.KeyNode, c.opts.Node,
	)
}

func (c *Connector) publish(ctx context.Context, topic string, md metadata.Metadata, payload []byte) error {
	msg := message.NewMessage(ids.New(), payload)
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)
	return c.opts.Publisher.Publish(topic, msg)
}

func (c *Connector) consume(ctx context.Context, b *bridge.Bridge, messages <-chan *message.Message) {
	defer close(c.done)
	ctx = context.WithValue(ctx, consumeKey{}, c)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.dispatch(ctx, b, msg)
			msg.Ack()
		}
	}
}

func (c *Connector) dispatch(ctx context.Context, b *bridge.Bridge, msg *message.Message) {
	md := metadata.FromWatermill(msg.Metadata)
	if md.Link() != c.link {
		c.log.Debug("Dropping frame of another link", logging.LogFields{"frame_link": md.Link()})
		return
	}

	switch md.Kind() {
	case metadata.KindWelcome:
		c.welcomed.Do(func() { close(c.welcome) })
	case metadata.KindBye:
		c.peerGone.Store(true)
		go c.detach(b)
	case metadata.KindEvent:
		evt, err := c.opts.Codec.Decode(md.EventType(), msg.Payload)
		if err != nil {
			c.log.Error("Failed to decode event", err, logging.LogFields{"message_uuid": msg.UUID, "event_type": md.EventType()})
			return
		}
		hctx := c.opts.Propagator.Extract(ctx, propagation.MapCarrier(md))
		if err := b.Handle(hctx, evt, c); err != nil {
			c.log.Error("Event handler failed", err, logging.EventFields(evt, c))
		}
	default:
		c.log.Debug("Dropping unknown frame", logging.LogFields{"kind": md.Kind()})
	}
}

// detach removes the connector from its bridge after the peer said bye.
func (c *Connector) detach(b *bridge.Bridge) {
	err := b.RemoveConnector(context.Background(), c)
	switch {
	case err == nil:
		c.log.Debug("Link closed by peer", nil)
	case errors.Is(err, errspkg.ErrConnectorNotFound), errors.Is(err, errspkg.ErrConnectorStopped):
	default:
		c.log.Error("Failed to detach connector", err, nil)
	}
}
