package ttlcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissAndSet(t *testing.T) {
	c := New[string, int](time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", 42)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestExpiryHonorsInjectedClock(t *testing.T) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := NewWithClock[string, int](30*time.Second, clock)

	c.Set("k", 1)
	_, ok := c.Get("k")
	require.True(t, ok)

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()

	_, ok = c.Get("k")
	assert.False(t, ok, "entry older than the TTL must be treated as absent")
}

func TestInvalidate(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("k", 1)
	c.Invalidate("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestGetSetComputesOnceWhileFresh(t *testing.T) {
	c := New[string, int](time.Minute)

	var computes int32
	compute := func() (int, error) {
		atomic.AddInt32(&computes, 1)
		return 7, nil
	}

	v, err := c.GetSet("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = c.GetSet("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.EqualValues(t, 1, computes, "a fresh entry must not recompute")
}

func TestGetSetDoesNotCacheErrors(t *testing.T) {
	c := New[string, int](time.Minute)

	var computes int32
	_, err := c.GetSet("k", func() (int, error) {
		atomic.AddInt32(&computes, 1)
		return 0, errors.New("lookup failed")
	})
	require.Error(t, err)

	v, err := c.GetSet("k", func() (int, error) {
		atomic.AddInt32(&computes, 1)
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.EqualValues(t, 2, computes)
}

func TestGetSetSingleFlight(t *testing.T) {
	c := New[string, int](time.Minute)

	var computes int32
	started := make(chan struct{})
	release := make(chan struct{})

	compute := func() (int, error) {
		atomic.AddInt32(&computes, 1)
		close(started)
		<-release
		return 11, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, _ := c.GetSet("k", compute)
		results[0] = v
	}()

	<-started
	for i := 1; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := c.GetSet("k", func() (int, error) {
				atomic.AddInt32(&computes, 1)
				return -1, nil
			})
			results[i] = v
		}()
	}

	// Give the racers a moment to park on the in-flight call, then let
	// the first computation finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, computes, "concurrent callers for the same missing key must share one computation")
	for _, v := range results {
		assert.Equal(t, 11, v)
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := NewWithClock[int, int](10*time.Second, clock)

	c.Set(0, 0)
	mu.Lock()
	now = now.Add(11 * time.Second)
	mu.Unlock()

	// The sweep triggers on every 100th write.
	for i := 1; i < 100; i++ {
		c.Set(i, i)
	}

	c.mu.Lock()
	_, present := c.entries[0]
	c.mu.Unlock()
	assert.False(t, present, "the counter-triggered sweep must evict expired entries")
}
