package doontime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/timelineresolver-go/internal/clock"
)

const (
	assertTimeout = 500 * time.Millisecond
	assertTick    = 5 * time.Millisecond
)

type recorder struct {
	mu     sync.Mutex
	fired  []string
	active int
	maxAct int
}

func (r *recorder) callback(name string, hold time.Duration) Callback {
	return func(payload any) error {
		r.mu.Lock()
		r.active++
		if r.active > r.maxAct {
			r.maxAct = r.active
		}
		r.mu.Unlock()

		if hold > 0 {
			time.Sleep(hold)
		}

		r.mu.Lock()
		r.fired = append(r.fired, name)
		r.active--
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) firedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.fired))
	copy(out, r.fired)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func TestQueueFiresDueEntry(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(Burst, manual.Now, Options{})
	defer q.Dispose()

	rec := &recorder{}
	q.Queue(100, "", rec.callback("a", 0), nil)

	manual.Set(100)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, assertTimeout, assertTick)
}

func TestQueueDoesNotFireEarly(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(Burst, manual.Now, Options{})
	defer q.Dispose()

	rec := &recorder{}
	q.Queue(1000, "", rec.callback("a", 0), nil)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, rec.count(), "entry must not fire before its due time")
}

func TestInOrderSerializesPerKey(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(InOrder, manual.Now, Options{})
	defer q.Dispose()

	rec := &recorder{}
	q.Queue(10, "port1", rec.callback("first", 50*time.Millisecond), nil)
	q.Queue(20, "port1", rec.callback("second", 0), nil)

	manual.Set(20)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, assertTimeout, assertTick)
	assert.Equal(t, []string{"first", "second"}, rec.firedNames(), "same-key callbacks must complete in fireAt order")
	assert.Equal(t, 1, rec.maxAct, "same-key callbacks must never overlap")
}

func TestInOrderDifferentKeysOverlap(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(InOrder, manual.Now, Options{})
	defer q.Dispose()

	rec := &recorder{}
	q.Queue(10, "port1", rec.callback("a", 50*time.Millisecond), nil)
	q.Queue(10, "port2", rec.callback("b", 50*time.Millisecond), nil)

	manual.Set(10)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, assertTimeout, assertTick)
	assert.Equal(t, 2, rec.maxAct, "different keys must run concurrently")
}

func TestBurstDoesNotWaitForPriorCallbacks(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(Burst, manual.Now, Options{})
	defer q.Dispose()

	rec := &recorder{}
	q.Queue(10, "k", rec.callback("a", 60*time.Millisecond), nil)
	q.Queue(10, "k", rec.callback("b", 60*time.Millisecond), nil)

	manual.Set(10)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, assertTimeout, assertTick)
	assert.Equal(t, 2, rec.maxAct, "burst mode fires without waiting on prior callbacks")
}

func TestClearQueueAfterKeepsBoundary(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(Burst, manual.Now, Options{})
	defer q.Dispose()

	q.Queue(100, "", func(any) error { return nil }, "a")
	q.Queue(200, "", func(any) error { return nil }, "b")
	q.Queue(300, "", func(any) error { return nil }, "c")

	q.ClearQueueAfter(200)

	snapshot := q.GetQueue()
	require.Len(t, snapshot, 2)
	for _, e := range snapshot {
		assert.LessOrEqual(t, e.FireAt, int64(200))
	}
}

func TestClearQueueNowAndAfterDropsBoundary(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(Burst, manual.Now, Options{})
	defer q.Dispose()

	q.Queue(100, "", func(any) error { return nil }, "a")
	q.Queue(200, "", func(any) error { return nil }, "b")

	q.ClearQueueNowAndAfter(200)

	snapshot := q.GetQueue()
	require.Len(t, snapshot, 1)
	assert.Equal(t, int64(100), snapshot[0].FireAt)
}

func TestCallbackErrorReportedAndQueueContinues(t *testing.T) {
	manual := clock.NewManual(0)

	var mu sync.Mutex
	var errs []error
	q := New(InOrder, manual.Now, Options{
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})
	defer q.Dispose()

	rec := &recorder{}
	q.Queue(10, "k", func(any) error { return errors.New("boom") }, nil)
	q.Queue(20, "k", rec.callback("after", 0), nil)

	manual.Set(20)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, assertTimeout, assertTick)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1, "a failed callback still advances the per-key cursor")
}

func TestSlowCommandSignal(t *testing.T) {
	manual := clock.NewManual(0)

	var mu sync.Mutex
	var slow []string
	q := New(Burst, manual.Now, Options{
		SlowThreshold: 10 * time.Millisecond,
		OnSlowCommand: func(msg string) {
			mu.Lock()
			slow = append(slow, msg)
			mu.Unlock()
		},
	})
	defer q.Dispose()

	q.Queue(10, "k", func(any) error {
		manual.Set(100)
		return nil
	}, nil)

	manual.Set(10)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(slow) == 1
	}, assertTimeout, assertTick)
}

func TestDisposeDropsPendingEntries(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(Burst, manual.Now, Options{})

	rec := &recorder{}
	q.Queue(100, "", rec.callback("never", 0), nil)
	q.Dispose()

	manual.Set(100)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, rec.count())
	assert.Empty(t, q.GetQueue())
}

func TestEqualFireTimesKeepEnqueueOrder(t *testing.T) {
	manual := clock.NewManual(0)
	q := New(InOrder, manual.Now, Options{})
	defer q.Dispose()

	rec := &recorder{}
	for _, name := range []string{"a", "b", "c"} {
		q.Queue(10, "k", rec.callback(name, 0), nil)
	}

	manual.Set(10)
	assert.Eventually(t, func() bool { return rec.count() == 3 }, assertTimeout, assertTick)
	assert.Equal(t, []string{"a", "b", "c"}, rec.firedNames())
}
