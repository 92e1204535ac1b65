// Package device provides the generic Device Façade scaffolding shared
// by every device kind: the lifecycle state machine, status reporting,
// and the signal surface the conductor observes. Device kinds are not
// modeled by inheritance; each concrete device (internal/httpdevice,
// internal/videoserver) embeds a *Base[S] for its state shape S and
// implements Capability by delegating to it.
package device

import (
	"context"
	"sync"

	"github.com/strefethen/timelineresolver-go/internal/clock"
	"github.com/strefethen/timelineresolver-go/internal/doontime"
	"github.com/strefethen/timelineresolver-go/internal/statestore"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// LifecycleState is the façade's coarse connection/init state machine.
type LifecycleState int

const (
	Uninitialized LifecycleState = iota
	Initializing
	Ready
	Disconnected
	Terminated
)

func (s LifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Initializing:
		return "INITIALIZING"
	case Ready:
		return "READY"
	case Disconnected:
		return "DISCONNECTED"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// StatusCode summarizes device health for GetStatus.
type StatusCode string

const (
	StatusGood    StatusCode = "GOOD"
	StatusWarning StatusCode = "WARNING"
	StatusBad     StatusCode = "BAD"
)

// Status is the façade's public health report.
type Status struct {
	Code     StatusCode
	Messages []string
	Active   bool
}

// InitOptions carries the per-device configuration recognized on Init.
type InitOptions struct {
	ResendTimeMs       int
	MakeReadyDoesReset bool
	UseScheduling      bool
	TimeBase           int
	GatewayURL         string
	ISAUrl             string
	ZoneID             string
	ServerID           string

	// MakeReadyCommands replays on MakeReady(true). Its element type
	// is device-specific (e.g. httpdevice.Command,
	// videoserver.Command); each façade type-asserts and ignores
	// entries it doesn't recognize, so one InitOptions value can be
	// shared across device kinds in a mapping-driven configuration.
	MakeReadyCommands []any
}

// Signals is the façade's event surface toward the conductor. Each
// field is optional; a nil signal is simply not emitted.
type Signals struct {
	OnError             func(source string, err error)
	OnWarning           func(msg string)
	OnCommandError      func(err error, commandContext string)
	OnDebug             func(payload any)
	OnConnectionChanged func(status Status)
	OnResetResolver     func()
	OnSlowCommand       func(msg string)
	OnTimeTrace         func(trace string)
}

// Capability is the common surface every device kind exposes to the
// conductor.
type Capability interface {
	Init(ctx context.Context, opts InitOptions) error
	HandleState(snapshot timeline.Snapshot, mappings timeline.MappingTable) error
	ClearFuture(t int64)
	PrepareForHandleState(t int64)
	MakeReady(ctx context.Context, okToDestroy bool) error
	Terminate(ctx context.Context) error
	GetStatus() Status
	Connected() bool
}

// Base provides the generic scaffolding for a device of state type S:
// the lifecycle state machine, the ordered State Store, and the Timed
// Queue. Concrete devices embed Base and supply their own
// projector/differ/executor.
type Base[S any] struct {
	DeviceID string
	Queue    *doontime.Queue
	Store    *statestore.Store[S]
	Clock    clock.Source
	Signals  Signals

	mu     sync.Mutex
	state  LifecycleState
	status Status
}

// NewBase constructs a Base. empty is the device state representing
// "nothing scheduled".
func NewBase[S any](deviceID string, empty S, queue *doontime.Queue, source clock.Source, signals Signals) *Base[S] {
	return &Base[S]{
		DeviceID: deviceID,
		Queue:    queue,
		Store:    statestore.New(empty),
		Clock:    source,
		Signals:  signals,
		state:    Uninitialized,
		status:   Status{Code: StatusBad, Messages: []string{"not initialized"}},
	}
}

// State returns the current lifecycle state.
func (b *Base[S]) State() LifecycleState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState transitions the lifecycle state machine.
func (b *Base[S]) SetState(s LifecycleState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// GetStatus returns the façade's current health report.
func (b *Base[S]) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetStatus updates the health report and emits OnConnectionChanged.
func (b *Base[S]) SetStatus(status Status) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	if b.Signals.OnConnectionChanged != nil {
		b.Signals.OnConnectionChanged(status)
	}
}

// Connected reports whether the façade currently believes it has a live
// connection to the device.
func (b *Base[S]) Connected() bool {
	return b.State() == Ready
}

// PrepareForHandleState is idempotent: it cancels queued commands at or
// after t and prunes state history up to t, so a revised timeline does
// not double-fire commands from a stale pass.
func (b *Base[S]) PrepareForHandleState(t int64) {
	b.Queue.ClearQueueNowAndAfter(t)
	b.Store.CleanUpStates(0, t)
}

// ClearFuture removes queued commands with executeAt > t. It does not
// affect committed stored states.
func (b *Base[S]) ClearFuture(t int64) {
	b.Queue.ClearQueueAfter(t)
}

// QueueSnapshot exposes the pending command queue, read-only.
func (b *Base[S]) QueueSnapshot() []doontime.EntrySnapshot {
	return b.Queue.GetQueue()
}

// Terminate disposes the Timed Queue and transitions to Terminated.
func (b *Base[S]) Terminate(ctx context.Context) error {
	b.Queue.Dispose()
	b.SetState(Terminated)
	b.SetStatus(Status{Code: StatusBad, Messages: []string{"terminated"}})
	return nil
}

// PreviousTimeAndOldState computes previousTime = max(now, snapshotTime)
// and looks up the state effective at that time, falling back to the
// empty state. oldTime is the timestamp the returned state was committed
// at (zero for the empty fallback); stateful differs anchor their
// prepare-ahead commands to it.
func (b *Base[S]) PreviousTimeAndOldState(snapshotTime int64) (previousTime int64, oldTime int64, old S) {
	now := b.Clock()
	previousTime = now
	if snapshotTime > now {
		previousTime = snapshotTime
	}
	state, storedAt, ok := b.Store.GetStateBefore(previousTime + 1)
	if !ok {
		return previousTime, 0, b.Store.EmptyState()
	}
	return previousTime, storedAt, state
}
