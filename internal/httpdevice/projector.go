package httpdevice

import (
	"fmt"

	"github.com/strefethen/timelineresolver-go/internal/apperrors"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// Project turns a resolved Snapshot into this device's DeviceState,
// considering only layers mapped to KindHTTP for deviceID. Pure and
// side-effect-free.
func Project(snapshot timeline.Snapshot, mappings timeline.MappingTable, deviceID string) (DeviceState, error) {
	groups := timeline.GroupForDevice(snapshot, mappings, KindHTTP, deviceID)

	state := make(DeviceState, len(groups))
	for layerID, group := range groups {
		var nextUp *Content
		if group.NextUp != nil {
			c, err := contentFromObject(*group.NextUp)
			if err != nil {
				return nil, err
			}
			nextUp = &c
		}

		if group.Foreground == nil {
			// Synthesized empty foreground carrying only a lookahead
			// slot: no active request, just the preview.
			state[layerID] = LayerState{NextUp: nextUp}
			continue
		}

		content, err := contentFromObject(*group.Foreground)
		if err != nil {
			return nil, err
		}
		state[layerID] = LayerState{
			TimelineObjID: group.Foreground.ID,
			Content:       content,
			NextUp:        nextUp,
		}
	}
	return state, nil
}

func contentFromObject(obj timeline.ResolvedObject) (Content, error) {
	fields := obj.Content.Fields

	url, _ := fields["url"].(string)
	if url == "" {
		return Content{}, apperrors.NewInvalidMappingError(fmt.Sprintf("layer object %q has no url", obj.ID))
	}

	content := Content{
		Method: Method(obj.Content.Type),
		URL:    url,
	}
	if params, ok := fields["params"].(map[string]any); ok {
		content.Params = params
	}
	if priority, ok := timeline.AsInt(fields["temporalPriority"]); ok {
		content.TemporalPriority = &priority
	}
	if queueID, ok := fields["queueId"].(string); ok {
		content.QueueID = queueID
	}
	return content, nil
}
