package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/codec"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/ids"
	"github.com/drblury/eventbridge/internal/runtime/interest"
	"github.com/drblury/eventbridge/internal/runtime/logging/logtest"
	"github.com/drblury/eventbridge/internal/runtime/metadata"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/request"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type ping struct {
	N int `json:"n"`
}

type pong struct {
	N int `json:"n"`
}

type sink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *sink) handler() event.AnyHandler {
	return event.TypedFunc(func(_ context.Context, evt event.Event) error {
		s.mu.Lock()
		s.events = append(s.events, evt)
		s.mu.Unlock()
		return nil
	})
}

func (s *sink) snapshot() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

type node struct {
	bridge    *bridge.Bridge
	std       *modules.StandardHandlerModule
	requester *request.RequesterModule
	returner  *request.ReturnerModule
	opts      Options
	log       *logtest.Recorder
}

func newGoChannel(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func newNode(t *testing.T, ps *gochannel.GoChannel, name string) *node {
	t.Helper()
	cdc := codec.New()
	require.NoError(t, codec.Register[ping](cdc, "test.ping"))
	require.NoError(t, codec.Register[pong](cdc, "test.pong"))

	n := &node{
		bridge:    bridge.New(nil),
		requester: request.NewRequesterModule(),
		returner:  request.NewReturnerModule(),
		log:       logtest.New(),
	}
	require.NoError(t, modules.Install(n.bridge, modules.Defaults()...))
	require.NoError(t, modules.Install(n.bridge, interest.NewModule(), n.requester, n.returner))
	n.std, _ = bridge.ModuleOf[*modules.StandardHandlerModule](n.bridge)
	n.opts = Options{
		Publisher:        ps,
		Subscriber:       ps,
		Codec:            cdc,
		Node:             name,
		HandshakeTimeout: time.Second,
		Logger:           n.log,
	}
	t.Cleanup(func() { _ = n.bridge.Close(context.Background()) })
	return n
}

func (n *node) accept(t *testing.T) *Acceptor {
	t.Helper()
	a, err := NewAcceptor(n.opts)
	require.NoError(t, err)
	require.NoError(t, n.bridge.AddModule(a))
	return a
}

func (n *node) dial(t *testing.T, remote string) *Connector {
	t.Helper()
	c, err := Dial(n.opts, remote)
	require.NoError(t, err)
	require.NoError(t, n.bridge.AddConnector(context.Background(), c))
	return c
}

func TestEventsFlowBothWays(t *testing.T) {
	ctx := context.Background()
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")

	var atServer, atClient sink
	require.NoError(t, server.std.Register(ctx, atServer.handler(), event.TypeOf[ping]()))
	require.NoError(t, client.std.Register(ctx, atClient.handler(), event.TypeOf[pong]()))

	acceptor := server.accept(t)
	c := client.dial(t, "server")
	assert.Equal(t, "server", c.Remote())
	assert.True(t, ids.Valid(c.Link()))
	assert.Eventually(t, func() bool { return acceptor.Links() == 1 }, waitFor, tick)

	require.NoError(t, client.bridge.Send(ctx, ping{N: 1}))
	require.NoError(t, server.bridge.Send(ctx, pong{N: 2}))

	assert.Eventually(t, func() bool { return len(atServer.snapshot()) == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return len(atClient.snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, []event.Event{ping{N: 1}}, atServer.snapshot())
	assert.Equal(t, []event.Event{pong{N: 2}}, atClient.snapshot())
}

func TestRequestOverBroker(t *testing.T) {
	ctx := context.Background()
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")
	require.NoError(t, server.returner.Register(ctx, request.Typed(func(ctx context.Context, q ping, ret request.ReturnSender) error {
		return ret.SendReturn(ctx, pong{N: q.N * 10})
	}), event.TypeOf[ping]()))

	server.accept(t)
	client.dial(t, "server")

	reqCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	ret, err := request.Await(reqCtx, client.requester, ping{N: 4})
	require.NoError(t, err)
	assert.Equal(t, pong{N: 40}, ret)
	assert.Zero(t, client.requester.Pending())
}

func TestHandshakeTimesOutWithoutAcceptor(t *testing.T) {
	ps := newGoChannel(t)
	client := newNode(t, ps, "client")
	client.opts.HandshakeTimeout = 50 * time.Millisecond

	c, err := Dial(client.opts, "nobody")
	require.NoError(t, err)
	err = client.bridge.AddConnector(context.Background(), c)
	assert.ErrorIs(t, err, errspkg.ErrHandshakeTimeout)
	assert.Empty(t, client.bridge.Connectors())

	err = c.Start(context.Background(), client.bridge)
	assert.ErrorIs(t, err, errspkg.ErrConnectorStopped)
}

func TestStoppingOneSideDetachesThePeer(t *testing.T) {
	ctx := context.Background()
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")
	acceptor := server.accept(t)
	c := client.dial(t, "server")
	assert.Eventually(t, func() bool { return len(server.bridge.Connectors()) == 1 }, waitFor, tick)

	require.NoError(t, client.bridge.RemoveConnector(ctx, c))
	assert.Eventually(t, func() bool { return len(server.bridge.Connectors()) == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return acceptor.Links() == 0 }, waitFor, tick)

	assert.ErrorIs(t, c.Send(ctx, ping{}), errspkg.ErrConnectorNotStarted)
}

func TestHandlerCanRemoveItsOwnLink(t *testing.T) {
	ctx := context.Background()
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")
	acceptor := server.accept(t)

	removed := make(chan error, 1)
	var link atomic.Pointer[Connector]
	require.NoError(t, client.std.Register(ctx, event.TypedFunc(func(ctx context.Context, _ pong) error {
		removed <- client.bridge.RemoveConnector(ctx, link.Load())
		return nil
	}), event.TypeOf[pong]()))

	link.Store(client.dial(t, "server"))
	assert.Eventually(t, func() bool { return acceptor.Links() == 1 }, waitFor, tick)
	require.NoError(t, server.bridge.Send(ctx, pong{N: 1}))

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("removing the link from its own handler did not return")
	}
	assert.Empty(t, client.bridge.Connectors())
	assert.Eventually(t, func() bool { return acceptor.Links() == 0 }, waitFor, tick)
}

func TestClosingAcceptingBridgeDetachesDialers(t *testing.T) {
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")
	server.accept(t)
	client.dial(t, "server")
	client.dial(t, "server")
	assert.Eventually(t, func() bool { return len(server.bridge.Connectors()) == 2 }, waitFor, tick)

	require.NoError(t, server.bridge.Close(context.Background()))
	assert.Eventually(t, func() bool { return len(client.bridge.Connectors()) == 0 }, waitFor, tick)
}

func TestUndecodableFramesAreLoggedAndDropped(t *testing.T) {
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")
	server.accept(t)
	c := client.dial(t, "server")

	msg := message.NewMessage(ids.New(), []byte(`{}`))
	msg.Metadata = metadata.ToWatermill(metadata.New(
		metadata.KeyKind, metadata.KindEvent,
		metadata.KeyLink, c.Link(),
		metadata.KeyEventType, "test.unknown",
	))
	require.NoError(t, ps.Publish(inboxTopic(DefaultTopicPrefix, c.Link(), true), msg))

	assert.Eventually(t, func() bool {
		for _, e := range client.log.Level("error") {
			if e.Msg == "Failed to decode event" {
				return assert.ErrorIs(t, e.Err, errspkg.ErrUnknownEventType)
			}
		}
		return false
	}, waitFor, tick)
	assert.Len(t, client.bridge.Connectors(), 1)
}

func TestHelloValidation(t *testing.T) {
	ps := newGoChannel(t)
	server := newNode(t, ps, "server")
	acceptor := server.accept(t)
	assert.Equal(t, "eventbridge.server.connect", acceptor.Topic())

	bad := message.NewMessage(ids.New(), nil)
	bad.Metadata = metadata.ToWatermill(metadata.New(metadata.KeyKind, metadata.KindHello, metadata.KeyLink, "nope"))
	require.NoError(t, ps.Publish(acceptor.Topic(), bad))

	assert.Eventually(t, func() bool {
		for _, e := range server.log.Level("debug") {
			if e.Msg == "Dropping hello with invalid link id" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.Zero(t, acceptor.Links())
	assert.Empty(t, server.bridge.Connectors())

	require.NoError(t, server.bridge.RemoveModule(acceptor))
}

func TestOptionsValidation(t *testing.T) {
	ps := newGoChannel(t)
	cdc := codec.New()
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"publisher", Options{Subscriber: ps, Codec: cdc, Node: "n"}, errspkg.ErrPublisherRequired},
		{"subscriber", Options{Publisher: ps, Codec: cdc, Node: "n"}, errspkg.ErrSubscriberRequired},
		{"codec", Options{Publisher: ps, Subscriber: ps, Node: "n"}, errspkg.ErrCodecRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dial(tt.opts, "remote")
			assert.ErrorIs(t, err, tt.want)
			_, err = NewAcceptor(tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := NewAcceptor(Options{Publisher: ps, Subscriber: ps, Codec: cdc})
	assert.Error(t, err)
	_, err = Dial(Options{Publisher: ps, Subscriber: ps, Codec: cdc, Node: "n"}, " ")
	assert.ErrorIs(t, err, errspkg.ErrRemoteRequired)

	opts, err := Options{Publisher: ps, Subscriber: ps, Codec: cdc, Node: "n"}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, DefaultTopicPrefix, opts.TopicPrefix)
	assert.Equal(t, DefaultHandshakeTimeout, opts.HandshakeTimeout)
	assert.NotNil(t, opts.Propagator)
}

func TestOversizedEventsAreRejected(t *testing.T) {
	ctx := context.Background()
	ps := newGoChannel(t)
	server, client := newNode(t, ps, "server"), newNode(t, ps, "client")
	server.accept(t)
	client.opts.MaxMessageSize = 4
	c := client.dial(t, "server")

	assert.ErrorIs(t, c.Send(ctx, ping{N: 12345}), errspkg.ErrMessageTooLarge)
}
