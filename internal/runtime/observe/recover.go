package observe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
	"github.com/drblury/eventbridge/internal/runtime/logging"
	"github.com/drblury/eventbridge/internal/runtime/modules"
	"github.com/drblury/eventbridge/internal/runtime/pipeline"
)

// Recoverer turns a panicking handler into a *errors.HandlerPanicError. The
// other handlers of the same dispatch still run; the error reaches the
// caller joined with theirs.
type Recoverer struct {
	lowLevel *modules.LowLevelHandlerModule
	log      logging.ServiceLogger
	metrics  *Metrics
	panics   atomic.Uint64
}

// NewRecoverer logs recovered panics to the bridge logger and counts them in
// metrics when it is not nil.
func NewRecoverer(metrics *Metrics) *Recoverer {
	return &Recoverer{metrics: metrics}
}

func (r *Recoverer) Add(b *bridge.Bridge) error {
	lowLevel, ok := bridge.ModuleOf[*modules.LowLevelHandlerModule](b)
	if !ok {
		return fmt.Errorf("%w: low-level handler", errspkg.ErrModuleMissing)
	}
	if err := lowLevel.Channel().Add(r, modules.PriorityRecover); err != nil {
		return err
	}
	r.lowLevel = lowLevel
	r.log = b.Logger()
	return nil
}

func (r *Recoverer) Remove() error {
	if r.lowLevel != nil {
		r.lowLevel.Channel().Remove(r)
		r.lowLevel = nil
	}
	return nil
}

// Panics returns how many panics were recovered.
func (r *Recoverer) Panics() uint64 {
	return r.panics.Load()
}

func (r *Recoverer) InterceptLowLevel(ctx context.Context, inv *pipeline.Invocation[modules.LowLevelInterceptor], evt event.Event, source bridge.Connector, h modules.LowLevelHandler) (err error) {
	defer func() {
		if v := recover(); v != nil {
			panicErr := &errspkg.HandlerPanicError{Value: v, Stack: debug.Stack()}
			r.panics.Add(1)
			if r.metrics != nil {
				r.metrics.RecordPanic()
			}
			logging.OrNop(r.log).Error("Recovered handler panic", panicErr, logging.EventFields(evt, source))
			err = panicErr
		}
	}()
	return inv.Next().InterceptLowLevel(ctx, inv, evt, source, h)
}
