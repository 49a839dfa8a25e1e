package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	"github.com/drblury/eventbridge/internal/runtime/codec"
	configpkg "github.com/drblury/eventbridge/internal/runtime/config"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/interest"
	loggingpkg "github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/observe"
	"github.com/drblury/eventbridge/internal/runtime/request"
	"github.com/drblury/eventbridge/transport"
)

const metricsShutdownTimeout = 5 * time.Second

// Dependencies holds the optional collaborators of a Bridge. Leave fields nil
// for the defaults.
type Dependencies struct {
	// Codec encodes events for broker links. Defaults to an empty codec;
	// register application events on it before dialing.
	Codec *codec.Codec
	// Transports resolves Config.PubSubSystem. Defaults to
	// transport.DefaultRegistry.
	Transports *transport.Registry
	// Registerer and Gatherer default to the Prometheus defaults.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
	// Hooks run around every dispatch, after the configured logging and
	// metrics hooks.
	Hooks observe.Hooks
	// Modules are installed after the configured ones.
	Modules []bridge.Module
}

// Bridge is a bridge assembled from a Config, together with handles on the
// modules the config enabled. Fields for disabled features are nil.
type Bridge struct {
	*bridge.Bridge

	Conf  *configpkg.Config
	Log   loggingpkg.ServiceLogger
	Codec *codec.Codec

	Standard  *modules.StandardHandlerModule
	LowLevel  *modules.LowLevelHandlerModule
	Interest  *interest.Module
	Requester *request.RequesterModule
	Returner  *request.ReturnerModule
	Metrics   *observe.Metrics
	Recoverer *observe.Recoverer

	deps Dependencies

	transportMu sync.Mutex
	transport   *transport.Transport

	httpServersMu sync.Mutex
	httpServers   map[int]*http.ServeMux
	running       []*http.Server
}

// NewBridge validates conf and assembles a bridge with the default module
// set plus the features conf enables.
func NewBridge(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Bridge, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if deps.Codec == nil {
		deps.Codec = codec.New()
	}
	if deps.Transports == nil {
		deps.Transports = transport.DefaultRegistry
	}

	log.Info("Creating event bridge", loggingpkg.LogFields{
		"node":          conf.NodeName,
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	b := &Bridge{
		Bridge: bridge.New(log),
		Conf:   conf,
		Log:    log,
		Codec:  deps.Codec,
		deps:   deps,
	}
	if err := b.install(); err != nil {
		_ = b.Bridge.Close(context.Background())
		return nil, err
	}
	return b, nil
}

func (b *Bridge) install() error {
	conf := b.Conf
	mods := modules.Defaults()

	if conf.SelectiveForwarding {
		b.Interest = interest.NewModule()
		mods = append(mods, b.Interest)
	}
	if conf.RequestResponse {
		b.Requester = request.NewRequesterModule()
		b.Returner = request.NewReturnerModule()
		mods = append(mods, b.Requester, b.Returner)
	}

	var hooks observe.Hooks
	if conf.LogDispatch {
		hooks = hooks.Merge(observe.LoggingHooks(b.Log))
	}
	if conf.MetricsEnabled {
		b.Metrics = observe.NewMetrics(b.deps.Registerer)
		if err := b.Metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		b.AddConnectorListener(b.Metrics)
		hooks = hooks.Merge(b.Metrics.Hooks())
	}
	hooks = hooks.Merge(b.deps.Hooks)
	if hooks.OnStart != nil || hooks.OnDone != nil || hooks.OnError != nil {
		mods = append(mods, observe.NewHooksModule(hooks))
	}
	if conf.TracingEnabled {
		mods = append(mods, observe.NewTracing(b.deps.TracerProvider))
	}
	if conf.RecoverPanics {
		b.Recoverer = observe.NewRecoverer(b.Metrics)
		mods = append(mods, b.Recoverer)
	}
	mods = append(mods, b.deps.Modules...)

	if err := modules.Install(b.Bridge, mods...); err != nil {
		return err
	}
	b.Standard, _ = bridge.ModuleOf[*modules.StandardHandlerModule](b.Bridge)
	b.LowLevel, _ = bridge.ModuleOf[*modules.LowLevelHandlerModule](b.Bridge)

	if conf.MetricsEnabled && conf.MetricsPort > 0 {
		b.RegisterHTTPHandler(conf.MetricsPort, "/metrics", observe.Handler(b.deps.Gatherer))
	}
	return nil
}

// RegisterHTTPHandler mounts handler on the server for port. Servers are
// started by Run.
func (b *Bridge) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	if b.httpServers == nil {
		b.httpServers = make(map[int]*http.ServeMux)
	}
	mux, ok := b.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		b.httpServers[port] = mux
	}
	mux.Handle(pattern, handler)
}

// Run starts the registered HTTP servers and blocks until ctx is done, then
// closes the bridge.
func (b *Bridge) Run(ctx context.Context) error {
	b.startHTTPServers()
	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()
	return b.Close(closeCtx)
}

func (b *Bridge) startHTTPServers() {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	for port, mux := range b.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		b.running = append(b.running, srv)
		b.Log.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Log.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

// Close closes the bridge, which stops every connector, then the broker
// transport and the HTTP servers.
func (b *Bridge) Close(ctx context.Context) error {
	errs := []error{b.Bridge.Close(ctx)}

	b.transportMu.Lock()
	if b.transport != nil {
		errs = append(errs, b.transport.Close())
		b.transport = nil
	}
	b.transportMu.Unlock()

	b.httpServersMu.Lock()
	for _, srv := range b.running {
		errs = append(errs, srv.Shutdown(ctx))
	}
	b.running = nil
	b.httpServersMu.Unlock()

	return errors.Join(errs...)
}
