// Package jetstream provides the NATS JetStream transport.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/eventbridge/transport"
)

const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "EVENTBRIDGE"
	DefaultMaxDeliver = 3
	DefaultAckWait    = 30 * time.Second
	DefaultMaxAge     = time.Hour
)

var errClosed = errors.New("jetstream: transport is closed")

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

func init() {
	transport.Register(TransportName, Build, transport.NATSJetStreamCapabilities)
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds the JetStream settings.
type Config struct {
	URL string
	// StreamName is the stream every topic is stored in, as subject
	// <stream>.<topic>. Defaults to EVENTBRIDGE.
	StreamName string
	MaxDeliver int
	AckWait    time.Duration
	// MaxAge bounds how long frames are kept. Link frames are only useful
	// while both sides are up.
	MaxAge   time.Duration
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport publishes into one stream and consumes through pull consumers
// that start at the newest frame, so earlier runs are never replayed.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	t := &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
		subs:   make(map[*nats.Subscription]struct{}),
		done:   make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: nats.InterestPolicy,
	}
	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, updateErr := t.js.UpdateStream(streamCfg); updateErr != nil {
			return fmt.Errorf("ensure stream %s: %w", t.config.StreamName, errors.Join(err, updateErr))
		}
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Publish stores messages in the stream. The message uuid travels as
// Nats-Msg-Id, which also lets JetStream drop duplicates.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}
	subject := t.subject(topic)
	for _, msg := range messages {
		header := nats.Header{}
		for k, v := range msg.Metadata {
			header.Set(k, v)
		}
		header.Set(nats.MsgIdHdr, msg.UUID)
		if _, err := t.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: header}); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates a pull consumer for topic. The consumer is removed when
// ctx is cancelled or the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errClosed
	}

	subject := t.subject(topic)
	sub, err := t.js.PullSubscribe(subject, consumerName(topic),
		nats.BindStream(t.config.StreamName),
		nats.DeliverNew(),
		nats.AckExplicit(),
		nats.MaxDeliver(t.config.MaxDeliver),
		nats.AckWait(t.config.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	t.subs[sub] = struct{}{}

	output := make(chan *message.Message)
	t.wg.Add(1)
	go t.fetch(ctx, sub, output, topic)
	return output, nil
}

func (t *Transport) fetch(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer t.wg.Done()
	defer close(output)
	defer t.unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if t.isClosed() {
				return
			}
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, natsMsg := range msgs {
			if !t.deliver(ctx, natsMsg, output) {
				return
			}
		}
	}
}

// deliver hands one message to the consumer and waits for its ack. It
// returns false when the subscription is shutting down.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message) bool {
	msg := toWatermill(natsMsg)
	select {
	case output <- msg:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	select {
	case <-msg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("Failed to ack", err, nil)
		}
	case <-msg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logger.Error("Failed to nak", err, nil)
		}
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
	return true
}

func (t *Transport) unsubscribe(sub *nats.Subscription) {
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		t.logger.Debug("Failed to remove consumer", watermill.LogFields{"subject": sub.Subject, "err": err.Error()})
	}
}

func toWatermill(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = watermill.NewULID()
	}
	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func (t *Transport) subject(topic string) string {
	return t.config.StreamName + "." + topic
}

// consumerName derives a durable name; JetStream forbids dots in them.
func consumerName(topic string) string {
	return "eb_" + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(topic)
}

// Close stops every subscription and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.wg.Wait()
	t.nc.Close()
	return nil
}
