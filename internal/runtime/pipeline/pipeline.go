// Package pipeline implements the priority-ordered interceptor chain every
// dispatch path of a bridge is built from.
//
// A Channel holds interceptors of one interface shape I, each under a unique
// integer priority. Invoke takes a snapshot of the chain, highest priority
// first, and returns an Invocation cursor. Interceptors receive the cursor and
// decide themselves whether to continue with inv.Next(); the engine never
// continues on its own. Once the cursor is exhausted Next returns the
// channel's terminal value, a no-op implementation of I, so an interceptor can
// always call inv.Next().Method(...) without checking for the end.
package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/eventbridge/internal/runtime/errors"
	"github.com/drblury/eventbridge/internal/runtime/event"
)

type entry[I any] struct {
	priority    int
	interceptor I
}

// Channel is an ordered, mutable set of interceptors keyed by priority.
// Mutations serialize on a mutex and publish a fresh sorted slice; Invoke
// only loads the current slice and never blocks.
type Channel[I any] struct {
	mu       sync.Mutex
	entries  atomic.Pointer[[]entry[I]]
	terminal I
}

// New returns an empty channel. terminal is returned by exhausted
// invocations and must be a no-op implementation of I.
func New[I any](terminal I) *Channel[I] {
	c := &Channel[I]{terminal: terminal}
	empty := []entry[I]{}
	c.entries.Store(&empty)
	return c
}

// Add registers interceptor under priority. It fails with ErrPriorityTaken
// when another interceptor already occupies that priority.
func (c *Channel[I]) Add(interceptor I, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.entries.Load()
	for _, e := range current {
		if e.priority == priority {
			return fmt.Errorf("%w: %d", errspkg.ErrPriorityTaken, priority)
		}
	}

	next := make([]entry[I], 0, len(current)+1)
	next = append(next, current...)
	next = append(next, entry[I]{priority: priority, interceptor: interceptor})
	sort.Slice(next, func(i, j int) bool { return next[i].priority > next[j].priority })
	c.entries.Store(&next)
	return nil
}

// Remove drops every slot holding an interceptor equal to the given one and
// reports how many slots were removed.
func (c *Channel[I]) Remove(interceptor I) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.entries.Load()
	next := make([]entry[I], 0, len(current))
	for _, e := range current {
		if !event.Same(e.interceptor, interceptor) {
			next = append(next, e)
		}
	}
	removed := len(current) - len(next)
	if removed > 0 {
		c.entries.Store(&next)
	}
	return removed
}

// Len returns the number of registered interceptors.
func (c *Channel[I]) Len() int {
	return len(*c.entries.Load())
}

// Priorities returns the occupied priorities, highest first.
func (c *Channel[I]) Priorities() []int {
	current := *c.entries.Load()
	out := make([]int, len(current))
	for i, e := range current {
		out[i] = e.priority
	}
	return out
}

// Invoke returns a single-use cursor over the interceptors registered right
// now. Later mutations of the channel do not affect it.
func (c *Channel[I]) Invoke() *Invocation[I] {
	return &Invocation[I]{entries: *c.entries.Load(), terminal: c.terminal}
}

// Invocation is a one-shot cursor over a channel snapshot. It is not safe
// for concurrent use; each dispatch creates its own.
type Invocation[I any] struct {
	entries  []entry[I]
	pos      int
	terminal I
}

// Next returns the next interceptor and advances the cursor. When the
// cursor is exhausted it returns the channel's no-op terminal.
func (inv *Invocation[I]) Next() I {
	if inv.pos >= len(inv.entries) {
		return inv.terminal
	}
	e := inv.entries[inv.pos]
	inv.pos++
	return e.interceptor
}

// Remaining reports how many interceptors have not been handed out yet.
func (inv *Invocation[I]) Remaining() int {
	return len(inv.entries) - inv.pos
}
