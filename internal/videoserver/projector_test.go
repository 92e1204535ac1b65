package videoserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

func mappingTable(deviceID string, layerIDs ...string) timeline.MappingTable {
	table := make(timeline.MappingTable, len(layerIDs))
	for _, id := range layerIDs {
		table[id] = timeline.Mapping{Device: KindVideoServer, DeviceID: deviceID, Options: map[string]any{"channel": 1}}
	}
	return table
}

func TestProjectPortWithClip(t *testing.T) {
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

	state, err := Project(snapshot, mappingTable("vs1", "P1"), "vs1")
	require.NoError(t, err)
	require.Contains(t, state, "P1")

	port := state["P1"]
	assert.Equal(t, 1, port.Channel)
	require.NotNil(t, port.Clip)
	assert.Equal(t, "NEWS", port.Clip.Title)
	assert.True(t, port.Clip.Playing)
	assert.Equal(t, int64(10000), port.Clip.PlayAt)
	assert.Equal(t, "P1", port.Clip.QueueKey)
}

func TestProjectMissingChannelIsInvalidMapping(t *testing.T) {
	snapshot := timeline.Snapshot{
		Layers: map[string]timeline.ResolvedObject{
			"P1": {ID: "o1", Content: timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS"}}},
		},
	}
	table := timeline.MappingTable{"P1": {Device: KindVideoServer, DeviceID: "vs1"}}

	_, err := Project(snapshot, table, "vs1")
	require.Error(t, err)
}

func TestProjectIgnoresOtherDevices(t *testing.T) {
	snapshot := timeline.Snapshot{
		Layers: map[string]timeline.ResolvedObject{
			"P1": {ID: "o1", Content: timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS"}}},
		},
	}
	table := timeline.MappingTable{"P1": {Device: "OTHER", DeviceID: "vs1"}}

	state, err := Project(snapshot, table, "vs1")
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestProjectLookaheadWithoutForeground(t *testing.T) {
	snapshot := timeline.Snapshot{
		Layers: map[string]timeline.ResolvedObject{
			"preview": {
				ID:                "o2",
				IsLookahead:       true,
				LookaheadForLayer: "P1",
				Instance:          timeline.Instance{Start: 20000},
				Content:           timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "SPORT", "playing": true}},
			},
		},
	}

	state, err := Project(snapshot, mappingTable("vs1", "P1"), "vs1")
	require.NoError(t, err)
	require.Contains(t, state, "P1")

	port := state["P1"]
	assert.Nil(t, port.Clip, "a lookahead alone must not become the active clip")
	require.NotNil(t, port.NextUp)
	assert.Equal(t, "SPORT", port.NextUp.Title)
	assert.False(t, port.NextUp.Playing, "a lookahead only stages, never plays")
}

func TestProjectQueueKeyOverride(t *testing.T) {
	snapshot := timeline.Snapshot{
		Layers: map[string]timeline.ResolvedObject{
			"P1": {ID: "o1", Content: timeline.ObjectContent{Type: "CLIP", Fields: map[string]any{"title": "NEWS"}}},
		},
	}
	table := timeline.MappingTable{
		"P1": {Device: KindVideoServer, DeviceID: "vs1", Options: map[string]any{"channel": 2, "queueKey": "custom"}},
	}

	state, err := Project(snapshot, table, "vs1")
	require.NoError(t, err)
	assert.Equal(t, "custom", state["P1"].Clip.QueueKey)
	assert.Equal(t, 2, state["P1"].Channel)
}
