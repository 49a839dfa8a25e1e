// Package transport builds the Watermill publisher and subscriber pairs the
// pubsub connector runs on. Each broker lives in its own sub-package and
// registers a Builder under the name selected by Config.GetPubSubSystem.
// Import transport/transports to register all of them.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is a publisher and subscriber pair produced by a Builder. Both
// may be the same value.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and the subscriber, once each.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil && !sameValue(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

func sameValue(pub message.Publisher, sub message.Subscriber) (same bool) {
	if pub == nil || sub == nil {
		return false
	}
	defer func() {
		// Uncomparable dynamic types are never the same value.
		if recover() != nil {
			same = false
		}
	}()
	return any(pub) == any(sub)
}

// Builder creates a transport from cfg.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the part of the bridge configuration transports read.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// MapTopics rewrites every topic passed to t through fn. Brokers with
// restricted topic alphabets use it to translate the dotted topic names of
// the pubsub connector.
func MapTopics(t Transport, fn func(topic string) string) Transport {
	return Transport{
		Publisher:  mappedPublisher{Publisher: t.Publisher, fn: fn},
		Subscriber: mappedSubscriber{Subscriber: t.Subscriber, fn: fn},
	}
}

type mappedPublisher struct {
	message.Publisher
	fn func(string) string
}

func (p mappedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(p.fn(topic), messages...)
}

type mappedSubscriber struct {
	message.Subscriber
	fn func(string) string
}

func (s mappedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.fn(topic))
}
