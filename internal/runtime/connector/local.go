package connector

import (
	"context"
	"fmt"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
)

// Local connects two bridges in the same process. Starting it on one bridge
// creates and attaches its mirror on the remote bridge; stopping either side
// tears down the other. Events are handed over by reference, so they must be
// immutable.
type Local struct {
	Lifecycle

	remote *bridge.Bridge
	peer   *Local
}

// NewLocal returns a connector to remote. Add it to the local bridge with
// Bridge.AddConnector.
func NewLocal(remote *bridge.Bridge) *Local {
	return &Local{remote: remote}
}

// Peer returns the mirror connector on the remote bridge, or nil before Start.
func (c *Local) Peer() *Local {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Local) Start(ctx context.Context, local *bridge.Bridge) error {
	if c.remote == nil {
		return errspkg.ErrBridgeRequired
	}
	if err := c.Begin(local); err != nil {
		return err
	}

	c.mu.Lock()
	mirror := c.peer
	c.mu.Unlock()
	if mirror != nil {
		// Started as the mirror of a connector that already runs.
		return nil
	}

	mirror = &Local{remote: local, peer: c}
	c.mu.Lock()
	c.peer = mirror
	c.mu.Unlock()
	if err := c.remote.AddConnector(ctx, mirror); err != nil {
		c.Fail()
		return fmt.Errorf("attach mirror: %w", err)
	}
	return nil
}

func (c *Local) Stop(ctx context.Context) error {
	if _, err := c.End(); err != nil {
		return err
	}
	peer := c.Peer()
	if peer == nil || peer.State() != Started {
		return nil
	}
	if err := c.remote.RemoveConnector(ctx, peer); err != nil {
		return fmt.Errorf("detach mirror: %w", err)
	}
	return nil
}

// Send hands evt to the remote bridge as if it arrived on the mirror.
func (c *Local) Send(ctx context.Context, evt event.Event) error {
	if _, err := c.Bridge(); err != nil {
		return err
	}
	return c.remote.Handle(ctx, evt, c.Peer())
}
