package pubsub

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/ids"
	"github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/metadata"
)

// Acceptor is a bridge module that accepts links dialed to the local node.
// Every hello adds the accepting side of the link to the bridge.
type Acceptor struct {
	opts Options
	log  logging.ServiceLogger

	mu     sync.Mutex
	links  map[string]*Connector
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAcceptor(opts Options) (*Acceptor, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		opts:  opts,
		log:   opts.Logger.With(logging.LogFields{"node": opts.Node}),
		links: make(map[string]*Connector),
	}, nil
}

// Topic is the connect topic the acceptor listens on.
func (a *Acceptor) Topic() string {
	return ConnectTopic(a.opts.TopicPrefix, a.opts.Node)
}

func (a *Acceptor) Add(b *bridge.Bridge) error {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := a.opts.Subscriber.Subscribe(ctx, a.Topic())
	if err != nil {
		cancel()
		return err
	}
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	go a.accept(ctx, b, messages, done)
	a.log.Info("Accepting links", logging.LogFields{"topic": a.Topic()})
	return nil
}

// Remove stops accepting new links. Links already established stay attached.
func (a *Acceptor) Remove() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Links returns the number of established accepted links.
func (a *Acceptor) Links() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.links)
}

func (a *Acceptor) accept(ctx context.Context, b *bridge.Bridge, messages <-chan *message.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			a.handleHello(ctx, b, metadata.FromWatermill(msg.Metadata))
			msg.Ack()
		}
	}
}

func (a *Acceptor) handleHello(ctx context.Context, b *bridge.Bridge, md metadata.Metadata) {
	if md.Kind() != metadata.KindHello {
		a.log.Debug("Dropping unexpected frame on connect topic", logging.LogFields{"kind": md.Kind()})
		return
	}
	link := md.Link()
	if !ids.Valid(link) {
		a.log.Debug("Dropping hello with invalid link id", logging.LogFields{"link": link})
		return
	}

	a.mu.Lock()
	if _, dup := a.links[link]; dup {
		a.mu.Unlock()
		return
	}
	c := newConnector(a.opts, md.Node(), link, false)
	c.release = func() { a.forget(link, c) }
	a.links[link] = c
	a.mu.Unlock()

	if err := b.AddConnector(ctx, c); err != nil {
		a.forget(link, c)
		a.log.Error("Failed to accept link", err, logging.LogFields{"link": link, "remote_node": md.Node()})
		return
	}
	a.log.Debug("Accepted link", logging.LogFields{"link": link, "remote_node": md.Node()})
}

func (a *Acceptor) forget(link string, c *Connector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.links[link] == c {
		delete(a.links, link)
	}
}
