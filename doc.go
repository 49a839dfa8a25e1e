// Package eventbridge routes immutable events between bridges, in one
// process or across a message broker.
//
// A Bridge owns a set of modules and connectors. Sending an event runs it
// through priority-ordered interceptor pipelines: local handlers registered
// with Subscribe see it first, then every attached connector forwards it to
// the bridge on the other side. Events a connector hands back run through
// the same pipelines, minus the connector they came from.
//
// NewBridge builds a bridge from Config. The default module set carries
// local handlers and connector fan-out; the config toggles add
// request/response correlation (Request, SubscribeRequests), selective
// forwarding driven by the handlers each side has registered, panic
// recovery, dispatch logging, Prometheus metrics and OpenTelemetry spans.
//
// # Linking bridges
//
// Connect links two bridges in the same process. Bridges in different
// processes link over a Watermill transport selected by Config.PubSubSystem:
// one side calls Bridge.Accept, the other Bridge.Dial with the accepting
// node's name. Events crossing a broker must be registered on the bridge
// Codec with RegisterEvent.
//
// Built-in transports register themselves when their package is imported;
// import transport/transports for all of them:
//   - channel: in-process gochannel, for tests and single-binary setups
//   - kafka: Kafka through Sarama
//   - nats: NATS core
//   - nats-jetstream: NATS JetStream pull consumers
//   - rabbitmq: AMQP fanout exchanges
//   - http: point-to-point webhooks
//   - aws: SNS/SQS, with LocalStack support
//
// Custom transports are added with RegisterTransport.
package eventbridge
