package runtime

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/pubsub"
	"github.com/drblury/eventbridge/transport"
)

// brokerTransport builds the configured transport on first use. Every link of
// the bridge shares it.
func (b *Bridge) brokerTransport(ctx context.Context) (transport.Transport, error) {
	b.transportMu.Lock()
	defer b.transportMu.Unlock()

	if b.Closed() {
		return transport.Transport{}, errspkg.ErrBridgeClosed
	}
	if b.transport != nil {
		return *b.transport, nil
	}
	if b.Conf.PubSubSystem == "" {
		return transport.Transport{}, fmt.Errorf("%w: pubsub system is not configured", errspkg.ErrUnknownTransport)
	}

	tr, err := b.deps.Transports.Build(ctx, b.Conf, loggingpkg.NewWatermillAdapter(b.Log))
	if err != nil {
		return transport.Transport{}, err
	}

	caps := b.deps.Transports.Capabilities(b.Conf.PubSubSystem)
	if b.Conf.SelectiveForwarding && !caps.Selective() {
		b.Log.Info("Transport does not preserve order; interest updates may race events", loggingpkg.LogFields{
			"pubsub_system": b.Conf.PubSubSystem,
		})
	}
	b.transport = &tr
	return tr, nil
}

func (b *Bridge) linkOptions(ctx context.Context) (pubsub.Options, error) {
	tr, err := b.brokerTransport(ctx)
	if err != nil {
		return pubsub.Options{}, err
	}
	caps := b.deps.Transports.Capabilities(b.Conf.PubSubSystem)
	return pubsub.Options{
		Publisher:        tr.Publisher,
		Subscriber:       tr.Subscriber,
		Codec:            b.Codec,
		Node:             b.Conf.NodeName,
		TopicPrefix:      b.Conf.TopicPrefix,
		HandshakeTimeout: b.Conf.HandshakeTimeout,
		MaxMessageSize:   caps.MaxMessageSize,
		Logger:           b.Log,
	}, nil
}

// NewTransportConnector returns an unstarted connector towards the bridge
// named remote, over the configured transport.
func (b *Bridge) NewTransportConnector(ctx context.Context, remote string) (*pubsub.Connector, error) {
	opts, err := b.linkOptions(ctx)
	if err != nil {
		return nil, err
	}
	return pubsub.Dial(opts, remote)
}

// NewTransportAcceptor returns an acceptor for links towards this node, over
// the configured transport.
func (b *Bridge) NewTransportAcceptor(ctx context.Context) (*pubsub.Acceptor, error) {
	opts, err := b.linkOptions(ctx)
	if err != nil {
		return nil, err
	}
	return pubsub.NewAcceptor(opts)
}

// Dial connects to remote and adds the link to the bridge. It returns once
// the remote has answered the handshake.
func (b *Bridge) Dial(ctx context.Context, remote string) (*pubsub.Connector, error) {
	c, err := b.NewTransportConnector(ctx, remote)
	if err != nil {
		return nil, err
	}
	if err := b.AddConnector(ctx, c); err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return c, nil
}

// Accept installs an acceptor so remote bridges can dial this node.
func (b *Bridge) Accept(ctx context.Context) (*pubsub.Acceptor, error) {
	a, err := b.NewTransportAcceptor(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.AddModule(a); err != nil {
		return nil, fmt.Errorf("accept on %s: %w", a.Topic(), err)
	}
	return a, nil
}
