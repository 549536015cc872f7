package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-nexus/veritas/errors"
)

// flakyConnector fails a fixed number of times before succeeding.
type flakyConnector struct {
	name          string
	failuresLeft  int
	discoverCalls int
	fetchCalls    int
}

func (f *flakyConnector) Name() string { return f.name }

func (f *flakyConnector) Discover(ctx context.Context, target string, limit int, order Order) ([]Item, error) {
	f.discoverCalls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("source unavailable")
	}
	return []Item{{ID: "item-1"}}, nil
}

func (f *flakyConnector) Fetch(ctx context.Context, itemID string) (*Content, error) {
	f.fetchCalls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("source unavailable")
	}
	return &Content{ItemID: itemID}, nil
}

func TestWithRetry_SucceedsAfterFailure(t *testing.T) {
	inner := &flakyConnector{name: "flaky", failuresLeft: 2}
	c := WithRetry(inner, RetryConfig{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	items, err := c.Discover(context.Background(), "target", 10, OrderOldest)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, inner.discoverCalls)
	assert.Equal(t, "flaky", c.Name())
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	inner := &flakyConnector{name: "flaky", failuresLeft: 10}
	c := WithRetry(inner, RetryConfig{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
	})

	_, err := c.Fetch(context.Background(), "item-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, inner.fetchCalls)
}

func TestWithRetry_DefaultIsSingleAttempt(t *testing.T) {
	inner := &flakyConnector{name: "flaky", failuresLeft: 1}
	c := WithRetry(inner, DefaultRetryConfig())

	_, err := c.Fetch(context.Background(), "item-1")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "attempts")
	assert.Equal(t, 1, inner.fetchCalls)
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	inner := &flakyConnector{name: "flaky", failuresLeft: 10}
	c := WithRetry(inner, RetryConfig{
		Attempts:       5,
		InitialBackoff: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, "item-1")
	require.Error(t, err)

	// A dead context must short-circuit the backoff schedule.
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.LessOrEqual(t, inner.fetchCalls, 1)
}

func TestWithRetry_PacesCalls(t *testing.T) {
	inner := &flakyConnector{name: "paced"}
	c := WithRetry(inner, RetryConfig{
		Attempts:  1,
		PerSecond: 50,
		Burst:     1,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "item-1")
		require.NoError(t, err)
	}

	// Burst 1 at 50/s means the second and third calls each wait ~20ms.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 3, inner.fetchCalls)
}

type depthConnector struct {
	stubConnector
	depth int
}

func (d *depthConnector) WithDepth(depth int) Connector {
	copied := *d
	copied.depth = depth
	return &copied
}

func TestWithRetry_PreservesDepthCapability(t *testing.T) {
	inner := &depthConnector{stubConnector: stubConnector{name: "web"}}
	c := WithRetry(inner, DefaultRetryConfig())

	dl, ok := c.(DepthLimited)
	require.True(t, ok)

	bounded := dl.WithDepth(2)
	require.NotNil(t, bounded)
	assert.Equal(t, "web", bounded.Name())

	// The registered instance stays untouched.
	assert.Equal(t, 0, inner.depth)
}
