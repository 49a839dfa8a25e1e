// Package channel provides the in-process transport. Every bridge in the
// process that builds it shares one Watermill gochannel, so bridges linked
// through it behave as if they were connected over a broker.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventbridge/transport"
)

const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer of the shared gochannel.
const OutputBuffer = 256

// Factory creates the shared pubsub. Tests override it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var (
	mu        sync.Mutex
	sharedPub message.Publisher
	sharedSub message.Subscriber
)

func init() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns the process-wide pubsub. Closing the returned transport
// leaves the shared pubsub open for the other bridges; use Reset to close it.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	mu.Lock()
	defer mu.Unlock()
	if sharedPub == nil {
		sharedPub, sharedSub = Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	}
	return transport.Transport{
		Publisher:  keepOpenPublisher{sharedPub},
		Subscriber: keepOpenSubscriber{sharedSub},
	}, nil
}

// Reset closes the shared pubsub. The next Build creates a fresh one.
func Reset() error {
	mu.Lock()
	defer mu.Unlock()
	if sharedPub == nil {
		return nil
	}
	err := transport.Transport{Publisher: sharedPub, Subscriber: sharedSub}.Close()
	sharedPub, sharedSub = nil, nil
	return err
}

type keepOpenPublisher struct{ message.Publisher }

func (keepOpenPublisher) Close() error { return nil }

type keepOpenSubscriber struct{ message.Subscriber }

func (keepOpenSubscriber) Close() error { return nil }

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
