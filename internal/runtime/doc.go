/*
Package runtime assembles event bridges from configuration.

# Assembly

NewBridge validates a Config and installs, in order:
  - the default module set (sender, handler, low-level, local delivery,
    connector fan-out and standard handlers)
  - interest tracking when SelectiveForwarding is set
  - requester and returner when RequestResponse is set
  - one hooks module carrying dispatch logging, Prometheus metrics and the
    caller's Hooks
  - OpenTelemetry tracing and the panic recoverer
  - Dependencies.Modules

# Broker links

The transport named by Config.PubSubSystem is built through the transport
registry the first time Dial, Accept or one of the NewTransport helpers is
called, and every link of the bridge shares it. Close stops the links
before closing the transport.

# HTTP

With MetricsEnabled and a MetricsPort, Run serves /metrics until its context
ends. RegisterHTTPHandler mounts further handlers on any port.
*/
package runtime
