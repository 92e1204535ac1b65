package videoserver

import (
	"context"
	"fmt"
	"time"

	"github.com/strefethen/timelineresolver-go/internal/apperrors"
	"github.com/strefethen/timelineresolver-go/internal/clock"
	"github.com/strefethen/timelineresolver-go/internal/device"
	"github.com/strefethen/timelineresolver-go/internal/doontime"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// ConnectionIdentity is the gateway connection surface recognized on
// Init. All four fields are required together.
type ConnectionIdentity struct {
	GatewayURL string
	ISAUrl     string
	ZoneID     string
	ServerID   string
}

// Facade is the Device Façade for the stateful video-server device: it
// composes the generic lifecycle/state-store scaffolding in
// internal/device with this package's Project/Diff/Executor. Unlike
// internal/httpdevice, its Timed Queue runs in-order so per-port
// commands never overtake one another.
type Facade struct {
	*device.Base[DeviceState]
	executor *Executor
	opts     device.InitOptions
	identity ConnectionIdentity
}

// NewFacade constructs a Facade. collab is the device-protocol
// collaborator; it is never nil in production but may be a fake in
// tests. When collab also implements StatusMonitor, the façade tracks
// its connection-health pushes in GetStatus.
func NewFacade(deviceID string, collab Collaborator, source clock.Source, signals device.Signals) *Facade {
	queue := doontime.New(doontime.InOrder, source, doontime.Options{
		OnError: func(err error) {
			if signals.OnCommandError != nil {
				signals.OnCommandError(err, "videoserver queue")
			}
		},
		OnSlowCommand: signals.OnSlowCommand,
	})
	f := &Facade{
		Base:     device.NewBase(deviceID, DeviceState(nil), queue, source, signals),
		executor: NewExecutor(collab, source),
	}

	if monitor, ok := collab.(StatusMonitor); ok {
		monitor.OnStatusChange(func(info ServerInfo) {
			if info.Connected {
				reconnected := f.State() == device.Disconnected
				f.SetState(device.Ready)
				f.SetStatus(device.Status{Code: device.StatusGood, Active: true})
				// Tracked state may have drifted while the connection
				// was down; ask the conductor for a fresh pass.
				if reconnected && f.Signals.OnResetResolver != nil {
					f.Signals.OnResetResolver()
				}
			} else {
				f.SetState(device.Disconnected)
				f.SetStatus(device.Status{Code: device.StatusBad, Messages: []string{"server connection lost"}})
			}
		})
	}
	return f
}

// SetClipCacheTTL overrides the default clip title-to-id cache TTL.
// Call before Init.
func (f *Facade) SetClipCacheTTL(ttl time.Duration) {
	f.executor.SetClipCacheTTL(ttl)
}

// Init validates the gateway connection identity and transitions the
// façade to READY. An identity is optional for embedded use (tests,
// in-process collaborators), but a partial one is a configuration error.
func (f *Facade) Init(ctx context.Context, opts device.InitOptions) error {
	f.SetState(device.Initializing)
	f.opts = opts

	identity := ConnectionIdentity{
		GatewayURL: opts.GatewayURL,
		ISAUrl:     opts.ISAUrl,
		ZoneID:     opts.ZoneID,
		ServerID:   opts.ServerID,
	}
	if identity != (ConnectionIdentity{}) {
		if identity.GatewayURL == "" || identity.ISAUrl == "" || identity.ZoneID == "" || identity.ServerID == "" {
			f.SetState(device.Uninitialized)
			err := apperrors.NewConnectionError("gatewayUrl, ISAUrl, zoneId and serverId are all required")
			f.SetStatus(device.Status{Code: device.StatusBad, Messages: []string{err.Message}})
			return err
		}
	}
	f.identity = identity

	if _, err := f.executor.collab.GetServer(ctx); err != nil {
		f.SetState(device.Disconnected)
		connErr := apperrors.NewConnectionError(fmt.Sprintf("server unreachable: %v", err))
		f.SetStatus(device.Status{Code: device.StatusBad, Messages: []string{connErr.Message}})
		return connErr
	}

	f.SetState(device.Ready)
	f.SetStatus(device.Status{Code: device.StatusGood, Active: true})
	return nil
}

// HandleState runs one full resolve pass: project, diff against the
// previously committed state, queue the resulting commands, and commit
// the new state. A projection failure aborts the pass before anything is
// queued or stored, so the next pass retries from the same baseline.
func (f *Facade) HandleState(snapshot timeline.Snapshot, mappings timeline.MappingTable) error {
	_, oldStateTime, oldState := f.PreviousTimeAndOldState(snapshot.Time)

	newState, err := Project(snapshot, mappings, f.DeviceID)
	if err != nil {
		if f.Signals.OnWarning != nil {
			f.Signals.OnWarning(fmt.Sprintf("projection failed: %v", err))
		}
		if f.Signals.OnError != nil {
			f.Signals.OnError("project", err)
		}
		return err
	}

	commands, err := Diff(oldState, newState, snapshot.Time, oldStateTime)
	if err != nil {
		if f.Signals.OnError != nil {
			f.Signals.OnError("diff", err)
		}
		return err
	}

	for _, cmd := range commands {
		cmd := cmd
		f.Queue.Queue(cmd.ExecuteAt, cmd.QueueKey, func(payload any) error {
			return f.execute(payload.(Command))
		}, cmd)
	}

	f.Store.SetState(newState, snapshot.Time)
	if f.Signals.OnTimeTrace != nil {
		f.Signals.OnTimeTrace(fmt.Sprintf("handleState %s: %d commands for t=%d", f.DeviceID, len(commands), snapshot.Time))
	}
	return nil
}

func (f *Facade) execute(cmd Command) error {
	if f.Signals.OnDebug != nil {
		f.Signals.OnDebug(cmd)
	}
	err := f.executor.Execute(context.Background(), cmd)
	if err != nil && f.Signals.OnCommandError != nil {
		f.Signals.OnCommandError(err, cmd.Context)
	}
	return err
}

// MakeReady replays any configured makeReadyCommands when okToDestroy
// is set, and with makeReadyDoesReset also clears the State Store so
// the next HandleState performs a full resync from empty.
func (f *Facade) MakeReady(ctx context.Context, okToDestroy bool) error {
	if !okToDestroy {
		return nil
	}

	for _, entry := range f.opts.MakeReadyCommands {
		cmd, ok := entry.(Command)
		if !ok {
			continue
		}
		cmd.Context = fmt.Sprintf("makeReady replay: %s", cmd.Context)
		if err := f.execute(cmd); err != nil && f.Signals.OnCommandError != nil {
			f.Signals.OnCommandError(err, cmd.Context)
		}
	}

	if f.opts.MakeReadyDoesReset {
		f.Store.ClearStates()
	}
	return nil
}
