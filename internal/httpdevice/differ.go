package httpdevice

import (
	"math"
	"reflect"
	"sort"
)

// Diff computes the ordered set of HTTP requests needed to move from old
// to new. The HTTP device has no device-side state to tear down when a
// layer disappears (a send is a one-shot action, not a standing state)
// so unlike internal/videoserver's differ, Diff never emits a "removed"
// command; it only fires on added/changed content.
func Diff(old, new DeviceState, transitionTime int64) ([]Command, error) {
	var commands []Command

	for layerID, layer := range new {
		prior, existed := old[layerID]
		if existed && reflect.DeepEqual(prior.Content, layer.Content) {
			continue
		}
		if layer.Content.URL == "" {
			// Only a lookahead slot populated so far; nothing to send.
			continue
		}

		commands = append(commands, Command{
			ExecuteAt:     transitionTime,
			QueueKey:      layer.Content.QueueID,
			Kind:          KindSend,
			LayerID:       layerID,
			TimelineObjID: layer.TimelineObjID,
			Context:       "layer " + layerID + " content changed",
			Content:       layer.Content,
		})
	}

	sort.SliceStable(commands, func(i, j int) bool {
		pi := commands[i].Content.TemporalPriority
		pj := commands[j].Content.TemporalPriority
		vi, vj := math.MaxInt, math.MaxInt
		if pi != nil {
			vi = *pi
		}
		if pj != nil {
			vj = *pj
		}
		if vi != vj {
			return vi < vj
		}
		return commands[i].LayerID < commands[j].LayerID
	})

	return commands, nil
}
