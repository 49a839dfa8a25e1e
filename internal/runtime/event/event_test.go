package event

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyEvent1 struct{}
type emptyEvent2 struct{}

type named struct{ Name string }

type stringer interface{ String() string }

type label string

func (l label) String() string { return string(l) }

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		p    Predicate
		evt  Event
		want bool
	}{
		{"type matches", TypeOf[emptyEvent1](), emptyEvent1{}, true},
		{"type mismatch", TypeOf[emptyEvent1](), emptyEvent2{}, false},
		{"any", Any(), emptyEvent2{}, true},
		{"nil event", Any(), nil, false},
		{"nil predicate", nil, emptyEvent1{}, false},
		{"interface type", TypeOf[stringer](), label("x"), true},
		{"interface mismatch", TypeOf[stringer](), emptyEvent1{}, false},
		{"match true", Match("bob", func(n named) bool { return n.Name == "bob" }), named{"bob"}, true},
		{"match false", Match("bob", func(n named) bool { return n.Name == "bob" }), named{"alice"}, false},
		{"match wrong type", Match("bob", func(n named) bool { return true }), emptyEvent1{}, false},
		{"not", Not(TypeOf[emptyEvent1]()), emptyEvent1{}, false},
		{"not wrong type", Not(Match("x", func(named) bool { return false })), emptyEvent1{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.p, tt.evt))
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(TypeOf[emptyEvent1](), TypeOf[emptyEvent1]()))
	assert.False(t, Equal(TypeOf[emptyEvent1](), TypeOf[emptyEvent2]()))
	assert.True(t, Equal(Any(), Any()))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(Any(), nil))

	a := Match("even", func(int) bool { return true })
	b := Match("even", func(int) bool { return false })
	assert.True(t, Equal(a, b), "match predicates are keyed by name")
	assert.False(t, Equal(a, Match("odd", func(int) bool { return true })))
	assert.False(t, Equal(a, Match[int64]("even", nil)))

	assert.True(t, Equal(Not(TypeOf[emptyEvent1]()), Not(TypeOf[emptyEvent1]())))
	assert.False(t, Equal(Not(TypeOf[emptyEvent1]()), TypeOf[emptyEvent1]()))
}

type funcPredicate struct{ fn func(Event) bool }

func (f funcPredicate) Test(evt Event) bool   { return f.fn(evt) }
func (funcPredicate) EventType() reflect.Type { return TypeOf[emptyEvent1]().EventType() }

func TestEqualNonComparableNeverEqual(t *testing.T) {
	p := funcPredicate{fn: func(Event) bool { return true }}
	assert.False(t, Equal(p, p))
}

func TestSame(t *testing.T) {
	h := &named{}
	assert.True(t, Same(h, h))
	assert.False(t, Same(h, &named{}))
	assert.True(t, Same(nil, nil))
	assert.False(t, Same(func() {}, func() {}))
	assert.False(t, Same(struct{ v any }{[]int{1}}, struct{ v any }{[]int{1}}))

	var h1, h2 Handler[int] = HandlerFunc[int](func(context.Context, int) error { return nil }), HandlerFunc[int](nil)
	assert.NotPanics(t, func() { assert.False(t, Same(h1, h1)) })
	assert.False(t, Same(h1, h2))
}

func TestMatchNilFuncAcceptsType(t *testing.T) {
	p := Match[named]("all", nil)
	assert.True(t, Apply(p, named{}))
	assert.Equal(t, "all", p.(interface{ Name() string }).Name())
}

func TestTypedHandler(t *testing.T) {
	var got []string
	h := Typed[named](HandlerFunc[named](func(_ context.Context, evt named) error {
		got = append(got, evt.Name)
		return nil
	}))

	require.NoError(t, h.HandleEvent(context.Background(), named{"bob"}))
	assert.Equal(t, TypeOf[named]().EventType(), h.EventType())
	assert.Equal(t, []string{"bob"}, got)
}

// Handlers declared for a narrower type than their predicate silently skip
// events they cannot accept. This is intentional and kept for compatibility.
func TestTypedHandlerSkipsMismatchSilently(t *testing.T) {
	called := false
	h := TypedFunc(func(context.Context, emptyEvent1) error {
		called = true
		return errors.New("should not run")
	})

	assert.NoError(t, h.HandleEvent(context.Background(), emptyEvent2{}))
	assert.False(t, called)
}

func TestTypedReturnsDistinctIdentities(t *testing.T) {
	fn := func(context.Context, emptyEvent1) error { return nil }
	a, b := TypedFunc(fn), TypedFunc(fn)
	same := a
	assert.True(t, a == same)
	assert.False(t, a == b)
}

func TestAcceptsInterfaceTypes(t *testing.T) {
	assert.True(t, Accepts(Any().EventType(), fmt.Errorf("x")))
	assert.False(t, Accepts(nil, emptyEvent1{}))
}

func TestNegation(t *testing.T) {
	inner := TypeOf[emptyEvent1]()
	got, ok := Negation(Not(inner))
	require.True(t, ok)
	assert.True(t, Equal(inner, got))

	_, ok = Negation(inner)
	assert.False(t, ok)
}
