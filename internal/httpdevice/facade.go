package httpdevice

import (
	"context"
	"fmt"

	"github.com/strefethen/timelineresolver-go/internal/clock"
	"github.com/strefethen/timelineresolver-go/internal/device"
	"github.com/strefethen/timelineresolver-go/internal/doontime"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// Facade is the Device Façade for the stateless HTTP device: it composes
// the generic lifecycle/state-store scaffolding in internal/device with
// this package's Project/Diff/Executor.
type Facade struct {
	*device.Base[DeviceState]
	executor *Executor
	opts     device.InitOptions
}

// NewFacade constructs a Facade. sender is the device-protocol
// collaborator; it is never nil in production but may be a fake in
// tests.
func NewFacade(deviceID string, sender Sender, source clock.Source, signals device.Signals) *Facade {
	queue := doontime.New(doontime.InOrder, source, doontime.Options{
		OnError: func(err error) {
			if signals.OnCommandError != nil {
				signals.OnCommandError(err, "httpdevice queue")
			}
		},
		OnSlowCommand: signals.OnSlowCommand,
	})
	executor := NewExecutor(sender, 0)
	executor.onWarning = func(msg string) {
		if signals.OnWarning != nil {
			signals.OnWarning(msg)
		}
	}
	return &Facade{
		Base:     device.NewBase(deviceID, DeviceState(nil), queue, source, signals),
		executor: executor,
	}
}

// Init applies the per-device configuration and transitions the façade
// to READY.
func (f *Facade) Init(ctx context.Context, opts device.InitOptions) error {
	f.SetState(device.Initializing)
	f.opts = opts
	f.executor.resendTimeMs = opts.ResendTimeMs
	f.SetState(device.Ready)
	f.SetStatus(device.Status{Code: device.StatusGood, Active: true})
	return nil
}

// HandleState runs one full resolve pass: project, diff against the
// previously committed state, queue the resulting commands, and commit
// the new state. A projection failure aborts the pass before anything is
// queued or stored, so the next pass retries from the same baseline.
func (f *Facade) HandleState(snapshot timeline.Snapshot, mappings timeline.MappingTable) error {
	_, _, oldState := f.PreviousTimeAndOldState(snapshot.Time)

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

	commands, err := Diff(oldState, newState, snapshot.Time)
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

// MakeReady re-sends the currently committed foreground state so a
// restarted or drifted device converges. When okToDestroy is set it
// also replays any configured makeReadyCommands, and with
// makeReadyDoesReset it first drops the committed state history and the
// relevance fingerprints so nothing suppresses the resend as a no-op.
func (f *Facade) MakeReady(ctx context.Context, okToDestroy bool) error {
	now := f.Clock()
	state, _, ok := f.Store.GetStateBefore(now + 1)

	if okToDestroy {
		if f.opts.MakeReadyDoesReset {
			f.executor.ForgetAll()
			f.Store.ClearStates()
		}

		for _, entry := range f.opts.MakeReadyCommands {
			cmd, ok := entry.(Command)
			if !ok {
				continue
			}
			if err := f.executor.Execute(ctx, cmd); err != nil && f.Signals.OnCommandError != nil {
				f.Signals.OnCommandError(err, cmd.Context)
			}
		}
	}

	if !ok {
		return nil
	}
	for layerID, layer := range state {
		if layer.Content.URL == "" {
			continue
		}
		cmd := Command{
			ExecuteAt:     now,
			QueueKey:      layer.Content.QueueID,
			Kind:          KindSend,
			LayerID:       layerID,
			TimelineObjID: layer.TimelineObjID,
			Context:       fmt.Sprintf("makeReady resend for layer %s", layerID),
			Content:       layer.Content,
		}
		if err := f.executor.Execute(ctx, cmd); err != nil {
			if f.Signals.OnCommandError != nil {
				f.Signals.OnCommandError(err, cmd.Context)
			}
		}
	}
	return nil
}

// CommandFromConfig decodes one makeReadyCommands manifest entry into a
// Command. ok is false when the entry is not this device's shape.
func CommandFromConfig(entry map[string]any) (Command, bool) {
	rawType, _ := entry["type"].(string)
	url, _ := entry["url"].(string)
	if rawType == "" || url == "" {
		return Command{}, false
	}

	content := Content{Method: Method(rawType), URL: url}
	if params, ok := entry["params"].(map[string]any); ok {
		content.Params = params
	}
	if queueID, ok := entry["queueId"].(string); ok {
		content.QueueID = queueID
	}

	return Command{
		QueueKey: content.QueueID,
		Kind:     KindSend,
		LayerID:  "makeReady:" + url,
		Context:  "makeReady command for " + url,
		Content:  content,
	}, true
}
