package observe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/logging/logtest"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/request"
)

type orderPlaced struct{ ID string }

type stubConnector struct{}

func (stubConnector) Start(context.Context, *bridge.Bridge) error { return nil }
func (stubConnector) Stop(context.Context) error                  { return nil }
func (stubConnector) Send(context.Context, event.Event) error     { return nil }

type hookRecorder struct {
	mu     sync.Mutex
	starts []Stage
	dones  []Stage
	errs   []Stage
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnStart: func(ctx DispatchContext) {
			r.mu.Lock()
			r.starts = append(r.starts, ctx.Stage)
			r.mu.Unlock()
		},
		OnDone: func(ctx DispatchContext) {
			r.mu.Lock()
			r.dones = append(r.dones, ctx.Stage)
			r.mu.Unlock()
		},
		OnError: func(ctx DispatchContext, err error) {
			r.mu.Lock()
			r.errs = append(r.errs, ctx.Stage)
			r.mu.Unlock()
		},
	}
}

func newBridge(t *testing.T, extra ...bridge.Module) (*bridge.Bridge, *modules.StandardHandlerModule) {
	t.Helper()
	b := bridge.New(nil)
	require.NoError(t, modules.Install(b, modules.Defaults()...))
	require.NoError(t, modules.Install(b, extra...))
	std, _ := bridge.ModuleOf[*modules.StandardHandlerModule](b)
	return b, std
}

func TestHooksSeeEveryStage(t *testing.T) {
	ctx := context.Background()
	rec := &hookRecorder{}
	b, std := newBridge(t, NewHooksModule(rec.hooks()))
	require.NoError(t, b.AddConnector(ctx, stubConnector{}))
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error { return nil }), event.TypeOf[orderPlaced]()))

	require.NoError(t, b.Send(ctx, orderPlaced{ID: "1"}))

	// Send wraps local handling and delivery, so it starts first and ends last.
	assert.Equal(t, []Stage{StageSend, StageHandle, StageDeliver}, rec.starts)
	assert.Equal(t, []Stage{StageHandle, StageDeliver, StageSend}, rec.dones)
	assert.Empty(t, rec.errs)
}

func TestHooksReportHandlerErrors(t *testing.T) {
	ctx := context.Background()
	rec := &hookRecorder{}
	b, std := newBridge(t, NewHooksModule(rec.hooks()))
	boom := errors.New("boom")
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error { return boom }), event.TypeOf[orderPlaced]()))

	assert.ErrorIs(t, b.Send(ctx, orderPlaced{}), boom)
	assert.Equal(t, []Stage{StageHandle, StageSend}, rec.errs)
	assert.Empty(t, rec.dones)
}

func TestHooksModuleRemoval(t *testing.T) {
	ctx := context.Background()
	rec := &hookRecorder{}
	hooks := NewHooksModule(rec.hooks())
	b, _ := newBridge(t, hooks)
	require.NoError(t, b.RemoveModule(hooks))
	require.NoError(t, b.Send(ctx, orderPlaced{}))
	assert.Empty(t, rec.starts)

	bare := bridge.New(nil)
	assert.ErrorIs(t, bare.AddModule(NewHooksModule(Hooks{})), errspkg.ErrModuleMissing)
}

func TestMergeCallsBothInOrder(t *testing.T) {
	var calls []string
	a := Hooks{OnDone: func(DispatchContext) { calls = append(calls, "a") }}
	b := Hooks{
		OnDone:  func(DispatchContext) { calls = append(calls, "b") },
		OnError: func(DispatchContext, error) { calls = append(calls, "b-err") },
	}
	merged := a.Merge(b)
	merged.OnDone(DispatchContext{})
	merged.OnError(DispatchContext{}, errors.New("x"))
	assert.Nil(t, merged.OnStart)
	assert.Equal(t, []string{"a", "b", "b-err"}, calls)
}

func TestLoggingHooks(t *testing.T) {
	ctx := context.Background()
	log := logtest.New()
	b, std := newBridge(t, NewHooksModule(LoggingHooks(log)))
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error {
		return errors.New("rejected")
	}), event.TypeOf[orderPlaced]()))

	require.Error(t, b.Send(ctx, orderPlaced{}))
	errs := log.Level("error")
	require.Len(t, errs, 2)
	assert.Equal(t, "Dispatch failed", errs[0].Msg)
	assert.Equal(t, "handle", errs[0].Fields["stage"])
	assert.Equal(t, "send", errs[1].Fields["stage"])
	assert.NotEmpty(t, log.Level("trace"))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "observe.orderPlaced", TypeName(orderPlaced{}))
	assert.Equal(t, "request[observe.orderPlaced]", TypeName(request.Envelope{Payload: orderPlaced{}, IsRequest: true}))
	assert.Equal(t, "return[string]", TypeName(request.Envelope{Payload: "ok"}))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetricsCountDispatches(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	require.NoError(t, metrics.Register())
	require.NoError(t, metrics.Register())

	b, _ := newBridge(t, NewHooksModule(metrics.Hooks()))
	b.AddConnectorListener(metrics)
	c := stubConnector{}
	require.NoError(t, b.AddConnector(ctx, c))
	require.NoError(t, b.Send(ctx, orderPlaced{}))
	require.NoError(t, b.Send(ctx, orderPlaced{}))

	sendLabels := map[string]string{"stage": "send", "event_type": "observe.orderPlaced", "outcome": "ok"}
	assert.Equal(t, 2.0, counterValue(t, reg, "eventbridge_dispatch_total", sendLabels))
	assert.Equal(t, 1.0, counterValue(t, reg, "eventbridge_connectors", nil))

	require.NoError(t, b.RemoveConnector(ctx, c))
	assert.Equal(t, 0.0, counterValue(t, reg, "eventbridge_connectors", nil))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "eventbridge_dispatch_total")
	assert.Contains(t, string(body), "eventbridge_dispatch_duration_seconds")
}

func TestMetricsRegisterTwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, second := NewMetrics(reg), NewMetrics(reg)
	require.NoError(t, first.Register())
	require.NoError(t, second.Register())
	require.NoError(t, second.Register())

	second.Hooks().OnDone(DispatchContext{Stage: StageSend, EventType: "orders.placed"})
	first.Hooks().OnDone(DispatchContext{Stage: StageSend, EventType: "orders.placed"})
	second.RecordPanic()
	second.ConnectorAdded(context.Background(), stubConnector{})

	assert.Equal(t, 2.0, counterValue(t, reg, "eventbridge_dispatch_total", map[string]string{
		"stage": string(StageSend), "event_type": "orders.placed", "outcome": "ok",
	}))
	assert.Equal(t, 1.0, counterValue(t, reg, "eventbridge_handler_panics_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "eventbridge_connectors", nil))
}

func TestTracingNestsSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	b, std := newBridge(t, NewTracing(tp))
	require.NoError(t, b.AddConnector(ctx, stubConnector{}))
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error { return nil }), event.TypeOf[orderPlaced]()))
	require.NoError(t, b.Send(ctx, orderPlaced{}))

	spans := exporter.GetSpans()
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	require.Len(t, byName, 3)
	send := byName[SpanSend]
	assert.Equal(t, send.SpanContext.SpanID(), byName[SpanHandle].Parent.SpanID())
	assert.Equal(t, send.SpanContext.SpanID(), byName[SpanDeliver].Parent.SpanID())
	assert.Equal(t, codes.Ok, send.Status.Code)
}

func TestTracingRecordsErrors(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tracing := NewTracing(tp)
	b, std := newBridge(t, tracing)
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error {
		return errors.New("nope")
	}), event.TypeOf[orderPlaced]()))
	require.Error(t, b.Send(ctx, orderPlaced{}))

	for _, s := range exporter.GetSpans() {
		assert.Equal(t, codes.Error, s.Status.Code, s.Name)
	}

	require.NoError(t, b.RemoveModule(tracing))
	exporter.Reset()
	require.Error(t, b.Send(ctx, orderPlaced{}))
	assert.Empty(t, exporter.GetSpans())
}

func TestRecovererConvertsPanics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	require.NoError(t, metrics.Register())
	recoverer := NewRecoverer(metrics)
	b, std := newBridge(t, recoverer, NewHooksModule(metrics.Hooks()))

	var ran bool
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error {
		panic("kaboom")
	}), event.TypeOf[orderPlaced]()))
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error {
		ran = true
		return nil
	}), event.TypeOf[orderPlaced]()))

	err := b.Send(ctx, orderPlaced{})
	var panicErr *errspkg.HandlerPanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.True(t, ran)
	assert.Equal(t, uint64(1), recoverer.Panics())
	assert.Equal(t, 1.0, counterValue(t, reg, "eventbridge_handler_panics_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "eventbridge_dispatch_total", map[string]string{"stage": "send", "outcome": "panic"}))
}

func TestPanicsPropagateWithoutRecoverer(t *testing.T) {
	ctx := context.Background()
	recoverer := NewRecoverer(nil)
	b, std := newBridge(t, recoverer)
	require.NoError(t, std.Register(ctx, event.TypedFunc(func(context.Context, orderPlaced) error {
		panic("kaboom")
	}), event.TypeOf[orderPlaced]()))

	assert.Error(t, b.Send(ctx, orderPlaced{}))
	require.NoError(t, b.RemoveModule(recoverer))
	assert.Panics(t, func() { _ = b.Send(ctx, orderPlaced{}) })
}
