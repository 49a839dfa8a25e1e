package request

import (
	"context"

	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
)

// Await sends evt as a request and blocks until its return arrives or ctx is
// done. On expiry the pending entry is cancelled, so a late return is
// dropped.
func Await(ctx context.Context, m *RequesterModule, evt event.Event) (event.Event, error) {
	if evt == nil {
		return nil, errspkg.ErrEventRequired
	}
	if m == nil || m.bridge.Load() == nil {
		return nil, errspkg.ErrBridgeRequired
	}

	returned := make(chan event.Event, 1)
	id, err := m.SendRequest(ctx, evt, ReturnHandlerFunc(func(_ context.Context, ret event.Event) error {
		returned <- ret
		return nil
	}))
	if err != nil {
		select {
		case ret := <-returned:
			return ret, nil
		default:
		}
		m.Cancel(id)
		return nil, err
	}

	select {
	case ret := <-returned:
		return ret, nil
	case <-ctx.Done():
		m.Cancel(id)
		select {
		case ret := <-returned:
			return ret, nil
		default:
			return nil, ctx.Err()
		}
	}
}
