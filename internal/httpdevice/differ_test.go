package httpdevice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Empty -> single layer yields one added command
// at the transition time with an unordered (empty) queue key.
func TestDiffEmptyToSingleLayer(t *testing.T) {
	old := DeviceState{}
	newState := DeviceState{
		"L1": {TimelineObjID: "o1", Content: Content{Method: MethodPost, URL: "http://x", Params: map[string]any{"a": 1}}},
	}

	commands, err := Diff(old, newState, 1000)
	require.NoError(t, err)
	require.Len(t, commands, 1)

	cmd := commands[0]
	assert.Equal(t, int64(1000), cmd.ExecuteAt)
	assert.Equal(t, "", cmd.QueueKey)
	assert.Equal(t, KindSend, cmd.Kind)
	assert.Equal(t, "L1", cmd.LayerID)
}

// Unchanged content between old and new yields zero commands.
func TestDiffUnchangedContentYieldsNoCommands(t *testing.T) {
	layer := LayerState{TimelineObjID: "o1", Content: Content{Method: MethodPost, URL: "http://x"}}
	old := DeviceState{"L1": layer}
	newState := DeviceState{"L1": layer}

	commands, err := Diff(old, newState, 2000)
	require.NoError(t, err)
	assert.Empty(t, commands)
}

// Two added layers with different temporalPriority order by
// priority ascending, lower first.
func TestDiffOrdersByTemporalPriority(t *testing.T) {
	p2, p0 := 2, 0
	newState := DeviceState{
		"L1": {TimelineObjID: "o1", Content: Content{Method: MethodPost, URL: "http://l1", TemporalPriority: &p2}},
		"L2": {TimelineObjID: "o2", Content: Content{Method: MethodPost, URL: "http://l2", TemporalPriority: &p0}},
	}

	commands, err := Diff(DeviceState{}, newState, 500)
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, "L2", commands[0].LayerID)
	assert.Equal(t, "L1", commands[1].LayerID)
}

func TestDiffSkipsLookaheadOnlyLayer(t *testing.T) {
	previewURL := "http://next"
	newState := DeviceState{
		"M1": {NextUp: &Content{Method: MethodGet, URL: previewURL}},
	}

	commands, err := Diff(DeviceState{}, newState, 500)
	require.NoError(t, err)
	assert.Empty(t, commands)
}

func TestDiffNeverEmitsRemoval(t *testing.T) {
	old := DeviceState{
		"L1": {TimelineObjID: "o1", Content: Content{Method: MethodPost, URL: "http://x"}},
	}
	newState := DeviceState{}

	commands, err := Diff(old, newState, 500)
	require.NoError(t, err)
	assert.Empty(t, commands)
}
