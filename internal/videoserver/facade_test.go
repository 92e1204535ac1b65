package videoserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/timelineresolver-go/internal/clock"
	"github.com/strefethen/timelineresolver-go/internal/device"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

const (
	assertTimeout = 500 * time.Millisecond
	assertTick    = 5 * time.Millisecond
)

func newTestFacade(t *testing.T, collab Collaborator, manual *clock.Manual) *Facade {
	t.Helper()
	f := NewFacade("vs1", collab, manual.Now, device.Signals{
		OnCommandError: func(err error, ctx string) {},
	})
	require.NoError(t, f.Init(context.Background(), device.InitOptions{}))
	return f
}

func TestFacadeHandleStateQueuesPortCommands(t *testing.T) {
	manual := clock.NewManual(0)
	collab := newFakeCollaborator()
	f := newTestFacade(t, collab, manual)
	defer f.Terminate(context.Background())

	snapshot := timeline.Snapshot{
		Time: 10000,
		Layers: map[string]timeline.ResolvedObject{
			"P1": {
				ID:       "o1",
				Instance: timeline.Instance{Start: 10000},
				Content:  timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS", "playing": true}},
			},
		},
	}
	table := mappingTable("vs1", "P1")

	require.NoError(t, f.HandleState(snapshot, table))

	manual.Set(10000)
	assert.Eventually(t, func() bool { return collab.callCount("PortPlay") == 1 }, assertTimeout, assertTick)
}

func TestFacadeHandleStateIsIdempotentOnNoChange(t *testing.T) {
	manual := clock.NewManual(0)
	collab := newFakeCollaborator()
	f := newTestFacade(t, collab, manual)
	defer f.Terminate(context.Background())

	snapshot := timeline.Snapshot{
		Time: 10000,
		Layers: map[string]timeline.ResolvedObject{
			"P1": {
				ID:       "o1",
				Instance: timeline.Instance{Start: 10000},
				Content:  timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS", "playing": true}},
			},
		},
	}
	table := mappingTable("vs1", "P1")

	require.NoError(t, f.HandleState(snapshot, table))
	manual.Set(10000)
	assert.Eventually(t, func() bool { return collab.callCount("PortPlay") == 1 }, assertTimeout, assertTick)

	// A second HandleState pass with the same snapshot must not emit a
	// fresh SETUP_PORT/LOAD_FRAGMENTS/PLAY_CLIP sequence.
	require.NoError(t, f.HandleState(snapshot, table))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, collab.callCount("PortPlay"))
}

func TestFacadePrepareForHandleStateCancelsFutureCommands(t *testing.T) {
	manual := clock.NewManual(0)
	collab := newFakeCollaborator()
	f := newTestFacade(t, collab, manual)
	defer f.Terminate(context.Background())

	snapshot := timeline.Snapshot{
		Time: 10000,
		Layers: map[string]timeline.ResolvedObject{
			"P1": {
				ID:       "o1",
				Instance: timeline.Instance{Start: 10000},
				Content:  timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS", "playing": true}},
			},
		},
	}
	table := mappingTable("vs1", "P1")
	require.NoError(t, f.HandleState(snapshot, table))

	f.PrepareForHandleState(0)

	assert.Empty(t, f.Queue.GetQueue(), "prepareForHandleState(0) must cancel every queued command at or after t=0")
}

func TestFacadeMakeReadyResetForcesFullResync(t *testing.T) {
	manual := clock.NewManual(0)
	collab := newFakeCollaborator()
	f := NewFacade("vs1", collab, manual.Now, device.Signals{})
	require.NoError(t, f.Init(context.Background(), device.InitOptions{MakeReadyDoesReset: true}))
	defer f.Terminate(context.Background())

	snapshot := timeline.Snapshot{
		Time: 10000,
		Layers: map[string]timeline.ResolvedObject{
			"P1": {
				ID:       "o1",
				Instance: timeline.Instance{Start: 10000},
				Content:  timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS", "playing": true}},
			},
		},
	}
	table := mappingTable("vs1", "P1")
	require.NoError(t, f.HandleState(snapshot, table))

	require.NoError(t, f.MakeReady(context.Background(), false))
	assert.Equal(t, 1, f.Store.Len(), "a non-destructive makeReady keeps committed state")

	require.NoError(t, f.MakeReady(context.Background(), true))
	assert.Zero(t, f.Store.Len(), "a destructive makeReady with reset drops committed state")

	// With the baseline gone, replaying the same snapshot emits the full
	// setup sequence again instead of diffing to nothing.
	f.PrepareForHandleState(0)
	require.NoError(t, f.HandleState(snapshot, table))
	assert.NotEmpty(t, f.Queue.GetQueue())
}
