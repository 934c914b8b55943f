package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// slowDispatcher counts calls and holds each one until released.
type slowDispatcher struct {
	calls   atomic.Int64
	release chan struct{}
}

func (d *slowDispatcher) Request(ctx context.Context, _ identity.Hostname, _ protocol.Command) (protocol.Response, error) {
	d.calls.Add(1)
	select {
	case <-d.release:
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
	return protocol.OkResponse(protocol.UnitResponse()), nil
}

func TestCoalescerCollapsesIdenticalCommands(t *testing.T) {
	dispatcher := &slowDispatcher{release: make(chan struct{})}
	c := NewCoalescer(dispatcher)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.Request(context.Background(), "kiwi", protocol.Version())
		}(i)
	}

	// Let every caller reach the coalescer before releasing the upstream.
	require.Eventually(t, func() bool {
		return dispatcher.calls.Load() >= 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(dispatcher.release)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, dispatcher.calls.Load())
}

func TestCoalescerDistinguishesCommands(t *testing.T) {
	dispatcher := &slowDispatcher{release: make(chan struct{})}
	close(dispatcher.release)
	c := NewCoalescer(dispatcher)

	_, err := c.Request(context.Background(), "kiwi", protocol.Version())
	require.NoError(t, err)
	_, err = c.Request(context.Background(), "kiwi", protocol.Heartbeat())
	require.NoError(t, err)
	_, err = c.Request(context.Background(), "pear", protocol.Version())
	require.NoError(t, err)

	assert.EqualValues(t, 3, dispatcher.calls.Load())
}

func TestCoalescerLeaderCancelDoesNotPoisonFollowers(t *testing.T) {
	dispatcher := &slowDispatcher{release: make(chan struct{})}
	c := NewCoalescer(dispatcher)

	leaderCtx, leaderCancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Request(leaderCtx, "kiwi", protocol.Version())
		leaderErr <- err
	}()

	require.Eventually(t, func() bool {
		return dispatcher.calls.Load() == 1
	}, time.Second, time.Millisecond)

	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "kiwi", protocol.Version())
		followerErr <- err
	}()
	// Let the follower join the in-flight call before the leader gives up.
	time.Sleep(50 * time.Millisecond)

	leaderCancel()
	assert.Error(t, <-leaderErr)

	// The shared call is detached: the leader's cancellation must not reach
	// it, and the follower still gets the real outcome.
	close(dispatcher.release)
	assert.NoError(t, <-followerErr)
	assert.EqualValues(t, 1, dispatcher.calls.Load())
}

func TestCoalescerFollowerTimeout(t *testing.T) {
	dispatcher := &slowDispatcher{release: make(chan struct{})}
	c := NewCoalescer(dispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Request(ctx, "kiwi", protocol.Version())
	assert.Error(t, err)

	close(dispatcher.release)
}

func TestCacheComputesOncePerWindow(t *testing.T) {
	cache := NewCache[string, int]()

	var calls int
	f := func() (int, error) {
		calls++
		return calls, nil
	}

	v, err := cache.GetOrInit("k", time.Minute, f)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = cache.GetOrInit("k", time.Minute, f)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, calls)
}

func TestCacheExpires(t *testing.T) {
	cache := NewCache[string, int]()
	now := time.Now()
	cache.now = func() time.Time { return now }

	var calls int
	f := func() (int, error) {
		calls++
		return calls, nil
	}

	_, err := cache.GetOrInit("k", time.Second, f)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	v, err := cache.GetOrInit("k", time.Second, f)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewCache[string, int]()

	calls := 0
	_, err := cache.GetOrInit("k", time.Minute, func() (int, error) {
		calls++
		return 0, assert.AnError
	})
	assert.Error(t, err)

	v, err := cache.GetOrInit("k", time.Minute, func() (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache[string, int]()

	calls := 0
	f := func() (int, error) {
		calls++
		return calls, nil
	}

	_, err := cache.GetOrInit("k", time.Minute, f)
	require.NoError(t, err)
	cache.Invalidate("k")

	v, err := cache.GetOrInit("k", time.Minute, f)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
