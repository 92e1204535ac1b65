// Package doontime implements the timed command queue: a min-heap of
// (fireAt, queueKey, callback, payload) entries drained by a single
// cooperative ticker, with a FIFO serial worker per queueKey providing
// the in-order delivery discipline.
package doontime

import (
	"container/heap"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strefethen/timelineresolver-go/internal/clock"
)

// Mode selects a Queue's delivery discipline.
type Mode int

const (
	// InOrder serializes callbacks sharing a queueKey in ascending
	// fireAt order; different keys run independently.
	InOrder Mode = iota
	// Burst fires all due callbacks as they become due, in enqueue
	// order, without waiting on one another.
	Burst
)

// Callback is invoked when a queued entry becomes due. The error return
// is reported via OnError; it does not stop the queue.
type Callback func(payload any) error

type queueEntry struct {
	seq       int64
	fireAt    int64
	queueKey  string
	callback  Callback
	payload   any
	canceled  bool
	heapIndex int
}

// Handle identifies a queued entry for inspection; it carries no public
// fields and exists only to make Queue's signature self-documenting.
type Handle struct{ seq int64 }

// EntrySnapshot is a read-only view of one queued entry, returned by
// GetQueue.
type EntrySnapshot struct {
	FireAt   int64
	QueueKey string
	Payload  any
}

// Options configures a Queue at construction.
type Options struct {
	// OnError receives callback errors. They do not halt the queue.
	OnError func(err error)
	// OnSlowCommand fires when a callback's completion lags its due
	// time by more than SlowThreshold.
	OnSlowCommand func(msg string)
	// SlowThreshold is the deadline margin for OnSlowCommand. Zero
	// disables the signal.
	SlowThreshold time.Duration
	// TickInterval caps how long the ticker sleeps before re-reading
	// the clock. The clock is injected and may move independently of
	// wall time, so the ticker re-checks it at least this often.
	// Defaults to 25ms.
	TickInterval time.Duration
	// Logger defaults to log.Default() when nil.
	Logger *log.Logger
}

// Queue is a time-ordered command queue with IN_ORDER or BURST delivery.
type Queue struct {
	mode   Mode
	clock  clock.Source
	opts   Options
	logger *log.Logger

	slowThreshold atomic.Int64

	mu       sync.Mutex
	heap     entryHeap
	byHandle map[int64]*queueEntry
	nextSeq  int64
	disposed bool
	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	keysMu sync.Mutex
	keys   map[string]*keyWorker
}

// keyWorker drains entries for one queueKey strictly in fireAt order,
// without blocking other keys, implementing the IN_ORDER guarantee.
type keyWorker struct {
	mu      sync.Mutex
	pending []*queueEntry
	running bool
}

// New creates a Queue in the given mode, driven by the given clock.
func New(mode Mode, source clock.Source, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 25 * time.Millisecond
	}
	q := &Queue{
		mode:     mode,
		clock:    source,
		opts:     opts,
		logger:   opts.Logger,
		byHandle: make(map[int64]*queueEntry),
		keys:     make(map[string]*keyWorker),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	q.slowThreshold.Store(int64(opts.SlowThreshold))
	q.wg.Add(1)
	go q.run()
	return q
}

// SetSlowThreshold changes the deadline margin for OnSlowCommand. Zero
// disables the signal.
func (q *Queue) SetSlowThreshold(d time.Duration) {
	q.slowThreshold.Store(int64(d))
}

// Queue enqueues callback to fire at fireAt (ms). A queueKey of "" is
// unordered: it never waits on, or blocks, any other entry.
func (q *Queue) Queue(fireAt int64, queueKey string, callback Callback, payload any) Handle {
	q.mu.Lock()
	q.nextSeq++
	seq := q.nextSeq
	e := &queueEntry{seq: seq, fireAt: fireAt, queueKey: queueKey, callback: callback, payload: payload}
	q.byHandle[seq] = e
	heap.Push(&q.heap, e)
	q.mu.Unlock()

	q.nudge()
	return Handle{seq: seq}
}

// ClearQueueAfter removes entries with fireAt > t.
func (q *Queue) ClearQueueAfter(t int64) {
	q.clearWhere(func(e *queueEntry) bool { return e.fireAt > t })
}

// ClearQueueNowAndAfter removes entries with fireAt >= t.
func (q *Queue) ClearQueueNowAndAfter(t int64) {
	q.clearWhere(func(e *queueEntry) bool { return e.fireAt >= t })
}

func (q *Queue) clearWhere(match func(*queueEntry) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.heap {
		if match(e) {
			e.canceled = true
			delete(q.byHandle, e.seq)
		}
	}
	q.compactLocked()
}

// compactLocked rebuilds the heap dropping canceled entries.
func (q *Queue) compactLocked() {
	kept := make(entryHeap, 0, len(q.heap))
	for _, e := range q.heap {
		if !e.canceled {
			kept = append(kept, e)
		}
	}
	q.heap = kept
	heap.Init(&q.heap)
}

// GetQueue returns a read-only snapshot of pending (uncanceled) entries.
func (q *Queue) GetQueue() []EntrySnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]EntrySnapshot, 0, len(q.heap))
	for _, e := range q.heap {
		if e.canceled {
			continue
		}
		out = append(out, EntrySnapshot{FireAt: e.fireAt, QueueKey: e.queueKey, Payload: e.payload})
	}
	return out
}

// Dispose cancels the ticker and drops all entries. It does not wait for
// in-flight callbacks; they run to completion and their results are
// discarded.
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	q.heap = nil
	q.byHandle = make(map[int64]*queueEntry)
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.disposed {
			q.mu.Unlock()
			return
		}
		if len(q.heap) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		head := q.heap[0]
		now := q.clock()
		delay := head.fireAt - now
		q.mu.Unlock()

		if delay <= 0 {
			q.fireDue()
			continue
		}

		sleep := time.Duration(delay) * time.Millisecond
		if sleep > q.opts.TickInterval {
			sleep = q.opts.TickInterval
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-q.wake:
			timer.Stop()
		case <-q.done:
			timer.Stop()
			return
		}
	}
}

// fireDue pops every entry whose fireAt has passed and dispatches it
// according to the queue's mode.
func (q *Queue) fireDue() {
	now := q.clock()

	q.mu.Lock()
	var due []*queueEntry
	for len(q.heap) > 0 && q.heap[0].fireAt <= now {
		e := heap.Pop(&q.heap).(*queueEntry)
		delete(q.byHandle, e.seq)
		if e.canceled {
			continue
		}
		due = append(due, e)
	}
	q.mu.Unlock()

	for _, e := range due {
		q.dispatch(e)
	}
}

func (q *Queue) dispatch(e *queueEntry) {
	if e.queueKey == "" || q.mode == Burst {
		go q.invoke(e)
		return
	}
	q.dispatchInOrder(e)
}

// dispatchInOrder appends e to its key's FIFO and ensures exactly one
// drain goroutine is running for that key.
func (q *Queue) dispatchInOrder(e *queueEntry) {
	q.keysMu.Lock()
	kw, ok := q.keys[e.queueKey]
	if !ok {
		kw = &keyWorker{}
		q.keys[e.queueKey] = kw
	}
	q.keysMu.Unlock()

	kw.mu.Lock()
	kw.pending = append(kw.pending, e)
	start := !kw.running
	if start {
		kw.running = true
	}
	kw.mu.Unlock()

	if start {
		go q.drainKey(e.queueKey, kw)
	}
}

func (q *Queue) drainKey(key string, kw *keyWorker) {
	for {
		kw.mu.Lock()
		if len(kw.pending) == 0 {
			kw.running = false
			kw.mu.Unlock()
			q.keysMu.Lock()
			if current, ok := q.keys[key]; ok && current == kw && !kw.running {
				delete(q.keys, key)
			}
			q.keysMu.Unlock()
			return
		}
		next := kw.pending[0]
		kw.pending = kw.pending[1:]
		kw.mu.Unlock()

		q.invoke(next)
	}
}

func (q *Queue) invoke(e *queueEntry) {
	err := e.callback(e.payload)

	if threshold := time.Duration(q.slowThreshold.Load()); threshold > 0 {
		lag := time.Duration(q.clock()-e.fireAt) * time.Millisecond
		if lag > threshold && q.opts.OnSlowCommand != nil {
			q.opts.OnSlowCommand(slowCommandMessage(e, lag))
		}
	}

	if err != nil && q.opts.OnError != nil {
		q.opts.OnError(err)
	}
}

func slowCommandMessage(e *queueEntry, lag time.Duration) string {
	return "slow command (key=" + e.queueKey + "): " + lag.String() + " past due"
}
