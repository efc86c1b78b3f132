package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *clock, *metrics.Metrics) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	c, err := New(Options{TTL: 10 * time.Second, NearExpiry: 2 * time.Second, Clock: clk.Now, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(c.Wait)
	return c, clk, m
}

// versioned returns a loader whose result is the number of times it ran.
func versioned(calls *atomic.Int64) Loader[int64] {
	return func(ctx context.Context) (int64, error) {
		return calls.Add(1), nil
	}
}

func TestHitWithinTTL(t *testing.T) {
	c, clk, m := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	key := BalancesKey("g1")

	v, err := Fetch(ctx, c, key, versioned(&calls))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	clk.Advance(5 * time.Second)
	v, err = Fetch(ctx, c, key, versioned(&calls))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues(KindBalances, "hit")))
}

func TestNearExpiryServesCachedAndRefreshesOnce(t *testing.T) {
	c, clk, m := newTestCache(t)
	ctx := context.Background()
	key := BalancesKey("g1")

	var calls atomic.Int64
	release := make(chan struct{})
	slow := func(ctx context.Context) (int64, error) {
		n := calls.Add(1)
		if n > 1 {
			<-release
		}
		return n, nil
	}

	_, err := Fetch(ctx, c, key, slow)
	require.NoError(t, err)

	clk.Advance(9 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Fetch(ctx, c, key, slow)
			assert.NoError(t, err)
			assert.Equal(t, int64(1), v)
		}()
	}
	wg.Wait()
	close(release)
	c.Wait()

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRefreshes.WithLabelValues("ok")))

	v, err := Fetch(ctx, c, key, slow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestExpiredRecomputesSynchronously(t *testing.T) {
	c, clk, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	key := ExpensesFirstPageKey("g1", 20)

	_, err := Fetch(ctx, c, key, versioned(&calls))
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	v, err := Fetch(ctx, c, key, versioned(&calls))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRefreshFailureIsNotSurfaced(t *testing.T) {
	c, clk, m := newTestCache(t)
	ctx := context.Background()
	key := BalancesKey("g1")

	_, err := Fetch(ctx, c, key, func(ctx context.Context) (string, error) { return "cached", nil })
	require.NoError(t, err)

	clk.Advance(9 * time.Second)
	v, err := Fetch(ctx, c, key, func(ctx context.Context) (string, error) { return "", errors.New("db down") })
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
	c.Wait()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRefreshes.WithLabelValues("error")))
}

func TestLoadErrorIsReturnedOnMiss(t *testing.T) {
	c, _, _ := newTestCache(t)
	boom := errors.New("db down")

	_, err := Fetch(context.Background(), c, BalancesKey("g1"), func(ctx context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestInvalidateRemovesGroupKeysOnly(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64

	for _, key := range []Key{BalancesKey("g1"), ExpensesFirstPageKey("g1", 20), BalancesKey("g10")} {
		_, err := Fetch(ctx, c, key, versioned(&calls))
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Len())

	c.Invalidate("g1")
	assert.Equal(t, 1, c.Len())

	v, err := Fetch(ctx, c, BalancesKey("g1"), versioned(&calls))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestInvalidateDiscardsInFlightLoad(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	_, err := Fetch(ctx, c, BalancesKey("g1"), func(ctx context.Context) (int, error) {
		c.Invalidate("g1")
		return 1, nil
	})
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestInvalidateForgetsSettledGroups(t *testing.T) {
	c, _, _ := newTestCache(t)

	for i := 0; i < 100; i++ {
		c.Invalidate(fmt.Sprintf("g%d", i))
	}
	c.mu.Lock()
	assert.Empty(t, c.gens)
	c.mu.Unlock()

	// A group invalidated during a load stays tracked until the load ends.
	_, err := Fetch(context.Background(), c, BalancesKey("g1"), func(ctx context.Context) (int, error) {
		c.Invalidate("g1")
		c.mu.Lock()
		defer c.mu.Unlock()
		assert.Contains(t, c.gens, "g1")
		return 1, nil
	})
	require.NoError(t, err)
	assert.Zero(t, c.Len())
	c.mu.Lock()
	assert.Empty(t, c.gens)
	c.mu.Unlock()

	c.Invalidate("g2")
	c.mu.Lock()
	assert.Empty(t, c.gens)
	assert.Empty(t, c.inflight)
	c.mu.Unlock()
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c, _, _ := newTestCache(t)
	key := BalancesKey("g1")

	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context) (int64, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 42, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, c, key, slow)
		first <- err
	}()
	<-started

	second := make(chan int64, 1)
	go func() {
		v, err := Fetch(context.Background(), c, key, slow)
		assert.NoError(t, err)
		second <- v
	}()
	// Let the second caller join the running load.
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	assert.Equal(t, int64(42), <-second)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "g:grp_1:balances:v1", BalancesKey("grp_1").String())
	assert.Equal(t, "g:grp_1:expenses-first-page:limit=20:v1", ExpensesFirstPageKey("grp_1", 20).String())
}
