package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
)

const (
	metricsNamespace = "eventbridge"

	outcomeOK    = "ok"
	outcomeError = "error"
	outcomePanic = "panic"
)

// Metrics holds the Prometheus collectors of a bridge. Wire Hooks into a
// HooksModule, add it as connector listener and pass it to the recoverer.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	connectors       prometheus.Gauge
	panics           prometheus.Counter
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. A nil registerer selects the Prometheus
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:    registerer,
		dispatchTotal: newCounterVec("dispatch_total", "Dispatches observed per stage, event type and outcome", []string{"stage", "event_type", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching an event per stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "event_type"}),
		connectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connectors",
			Help:      "Connectors currently attached to the bridge",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered from event handlers",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times. When
// another Metrics already registered on the same registerer, its collectors
// are adopted so both record into the same series.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	if err := register(m.registerer, &m.dispatchTotal); err != nil {
		return err
	}
	if err := register(m.registerer, &m.dispatchDuration); err != nil {
		return err
	}
	if err := register(m.registerer, &m.connectors); err != nil {
		return err
	}
	if err := register(m.registerer, &m.panics); err != nil {
		return err
	}
	m.registered = true
	return nil
}

func register[C prometheus.Collector](r prometheus.Registerer, c *C) error {
	err := r.Register(*c)
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return fmt.Errorf("adopt existing collector %T: %w", already.ExistingCollector, err)
	}
	*c = existing
	return nil
}

// Hooks records every dispatch.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDone: func(ctx DispatchContext) {
			m.observe(ctx, outcomeOK)
		},
		OnError: func(ctx DispatchContext, err error) {
			outcome := outcomeError
			var panicErr *errspkg.HandlerPanicError
			if errors.As(err, &panicErr) {
				outcome = outcomePanic
			}
			m.observe(ctx, outcome)
		},
	}
}

func (m *Metrics) observe(ctx DispatchContext, outcome string) {
	stage := string(ctx.Stage)
	m.dispatchTotal.WithLabelValues(stage, ctx.EventType, outcome).Inc()
	m.dispatchDuration.WithLabelValues(stage, ctx.EventType).Observe(ctx.Duration.Seconds())
}

// RecordPanic counts a recovered handler panic.
func (m *Metrics) RecordPanic() {
	m.panics.Inc()
}

func (m *Metrics) ConnectorAdded(context.Context, bridge.Connector) {
	m.connectors.Inc()
}

func (m *Metrics) ConnectorRemoved(context.Context, bridge.Connector) {
	m.connectors.Dec()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
// A nil gatherer selects the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
