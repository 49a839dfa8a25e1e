package eventbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Name string
}

type question struct {
	N int
}

type answer struct {
	N int
}

func newBridge(t *testing.T, conf *Config) *Bridge {
	t.Helper()
	b, err := NewBridge(conf, NopLogger(), Dependencies{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestSubscribeAndPublish(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t, &Config{})

	var got []greeting
	unsubscribe, err := Subscribe(ctx, b, func(_ context.Context, g greeting) error {
		got = append(got, g)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(ctx, b, greeting{Name: "ada"}))
	require.NoError(t, Publish(ctx, b, answer{N: 1}))
	assert.Equal(t, []greeting{{Name: "ada"}}, got)

	assert.True(t, unsubscribe(ctx))
	assert.False(t, unsubscribe(ctx))
	require.NoError(t, Publish(ctx, b, greeting{Name: "bob"}))
	assert.Len(t, got, 1)
}

func TestSubscribeWithPredicates(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t, &Config{})

	var got []greeting
	_, err := Subscribe(ctx, b, func(_ context.Context, g greeting) error {
		got = append(got, g)
		return nil
	},
		Match("short", func(g greeting) bool { return len(g.Name) <= 3 }),
		Not(Match("bob", func(g greeting) bool { return g.Name == "bob" })),
	)
	require.NoError(t, err)

	for _, name := range []string{"ada", "bob", "grace"} {
		require.NoError(t, Publish(ctx, b, greeting{Name: name}))
	}
	assert.Equal(t, []greeting{{Name: "ada"}}, got)
}

func TestCombinedPredicatesCompareStructurally(t *testing.T) {
	short := Match("short", func(g greeting) bool { return len(g.Name) <= 3 })
	a := predicateFor[greeting]([]Predicate{short, TypeOf[greeting]()})
	b := predicateFor[greeting]([]Predicate{short, TypeOf[greeting]()})
	c := predicateFor[greeting]([]Predicate{TypeOf[greeting]()})

	assert.True(t, a.(allOf[greeting]).Equal(b))
	assert.False(t, a.(allOf[greeting]).Equal(c))
	assert.Equal(t, TypeOf[greeting]().EventType(), a.EventType())
}

func TestRequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t, &Config{RequestResponse: true})

	_, err := SubscribeRequests(ctx, b, func(_ context.Context, q question) (answer, error) {
		return answer{N: q.N * 2}, nil
	})
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := Request[answer](reqCtx, b, question{N: 21})
	require.NoError(t, err)
	assert.Equal(t, answer{N: 42}, got)

	_, err = Request[greeting](reqCtx, b, question{N: 1})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestRequestHelpersNeedRequestResponse(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t, &Config{})

	_, err := Request[answer](ctx, b, question{})
	assert.ErrorIs(t, err, ErrModuleMissing)

	_, err = SubscribeRequests(ctx, b, func(context.Context, question) (answer, error) {
		return answer{}, nil
	})
	assert.ErrorIs(t, err, ErrModuleMissing)
}

func TestConnectLinksTwoBridges(t *testing.T) {
	ctx := context.Background()
	left := newBridge(t, &Config{SelectiveForwarding: true, RequestResponse: true})
	right := newBridge(t, &Config{SelectiveForwarding: true, RequestResponse: true})

	var mu sync.Mutex
	var atRight []greeting
	_, err := Subscribe(ctx, right, func(_ context.Context, g greeting) error {
		mu.Lock()
		atRight = append(atRight, g)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	_, err = SubscribeRequests(ctx, right, func(_ context.Context, q question) (answer, error) {
		return answer{N: q.N + 1}, nil
	})
	require.NoError(t, err)

	c, err := Connect(ctx, left, right)
	require.NoError(t, err)
	assert.Len(t, right.Connectors(), 1)

	require.NoError(t, Publish(ctx, left, greeting{Name: "ada"}))
	mu.Lock()
	assert.Equal(t, []greeting{{Name: "ada"}}, atRight)
	mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := Request[answer](reqCtx, left, question{N: 1})
	require.NoError(t, err)
	assert.Equal(t, answer{N: 2}, got)

	require.NoError(t, left.RemoveConnector(ctx, c))
	assert.Empty(t, right.Connectors())
}

func TestNilArguments(t *testing.T) {
	ctx := context.Background()
	_, err := Subscribe[greeting](ctx, nil, nil)
	assert.ErrorIs(t, err, ErrModuleMissing)

	b := newBridge(t, &Config{})
	_, err = Subscribe[greeting](ctx, b, nil)
	assert.ErrorIs(t, err, ErrHandlerRequired)

	assert.Error(t, Publish(ctx, nil, greeting{}))
	_, err = Connect(ctx, b, nil)
	assert.Error(t, err)
}

func TestRegisterEvent(t *testing.T) {
	c := NewCodec()
	require.NoError(t, RegisterEvent[greeting](c, "test.greeting"))
	assert.Error(t, RegisterEvent[greeting](c, "test.greeting"))
}
