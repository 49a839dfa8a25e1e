// Package connector provides the connector lifecycle shared by every
// transport and the reference in-process connector.
package connector

import (
	"sync"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
)

// State of a connector. The only transitions are Unstarted -> Started ->
// Stopped and Unstarted -> Stopped (failed start).
type State int

const (
	Unstarted State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle enforces the connector state machine. Embed it in connector
// implementations; it holds the local bridge only while started.
type Lifecycle struct {
	mu     sync.Mutex
	state  State
	bridge *bridge.Bridge
}

// Begin moves to Started. It fails when the connector was started before.
func (l *Lifecycle) Begin(b *bridge.Bridge) error {
	if b == nil {
		return errspkg.ErrBridgeRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Started:
		return errspkg.ErrConnectorStarted
	case Stopped:
		return errspkg.ErrConnectorStopped
	}
	l.state = Started
	l.bridge = b
	return nil
}

// Fail marks a start attempt as failed. The connector cannot be restarted.
func (l *Lifecycle) Fail() {
	l.mu.Lock()
	l.state = Stopped
	l.bridge = nil
	l.mu.Unlock()
}

// End moves to Stopped and returns the bridge the connector was bound to.
func (l *Lifecycle) End() (*bridge.Bridge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Unstarted:
		return nil, errspkg.ErrConnectorNotStarted
	case Stopped:
		return nil, errspkg.ErrConnectorStopped
	}
	b := l.bridge
	l.state = Stopped
	l.bridge = nil
	return b, nil
}

// Bridge returns the local bridge while started.
func (l *Lifecycle) Bridge() (*bridge.Bridge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Started {
		return nil, errspkg.ErrConnectorNotStarted
	}
	return l.bridge, nil
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
