package videoserver

import (
	"fmt"

	"github.com/strefethen/timelineresolver-go/internal/apperrors"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// Project turns a resolved Snapshot into this device's DeviceState,
// considering only layers mapped to KindVideoServer for deviceID. Each
// mapped layer id is treated as a port id; the port's channel binding
// comes from the mapping's Options. Only the first channel of a
// multi-channel port is used. Pure and side-effect-free.
func Project(snapshot timeline.Snapshot, mappings timeline.MappingTable, deviceID string) (DeviceState, error) {
	groups := timeline.GroupForDevice(snapshot, mappings, KindVideoServer, deviceID)

	state := make(DeviceState, len(groups))
	for portID, group := range groups {
		channel, err := channelFromOptions(portID, group.Mapping.Options)
		if err != nil {
			return nil, err
		}

		port := PortState{Channel: channel}
		if group.Foreground != nil {
			port.TimelineObjID = group.Foreground.ID
			clip, err := clipFromObject(portID, group.Mapping, *group.Foreground)
			if err != nil {
				return nil, err
			}
			port.Clip = clip
		}
		if group.NextUp != nil {
			next, err := clipFromObject(portID, group.Mapping, *group.NextUp)
			if err != nil {
				return nil, err
			}
			// A lookahead only stages; it never plays on its own.
			next.Playing = false
			port.NextUp = next
		}
		state[portID] = port
	}
	return state, nil
}

func channelFromOptions(portID string, options map[string]any) (int, error) {
	raw, ok := options["channel"]
	if !ok {
		return 0, apperrors.NewInvalidMappingError(fmt.Sprintf("port %q has no channel binding in its mapping", portID))
	}
	if channels, isList := raw.([]any); isList && len(channels) > 0 {
		raw = channels[0]
	}
	channel, ok := timeline.AsInt(raw)
	if !ok {
		return 0, apperrors.NewInvalidMappingError(fmt.Sprintf("port %q channel binding is not an int", portID))
	}
	return channel, nil
}

func clipFromObject(portID string, mapping timeline.Mapping, obj timeline.ResolvedObject) (*ClipState, error) {
	fields := obj.Content.Fields

	title, _ := fields["title"].(string)
	if title == "" {
		return nil, apperrors.NewInvalidMappingError(fmt.Sprintf("port %q clip has no title", portID))
	}

	clip := &ClipState{
		Title:    title,
		PlayAt:   obj.Instance.Start,
		FPS:      DefaultFPS,
		Mode:     ModeQuality,
		QueueKey: queueKeyFor(portID, mapping.Options),
	}
	if playing, ok := fields["playing"].(bool); ok {
		clip.Playing = playing
	}
	if pauseAt, ok := timeline.AsInt64(fields["pauseAt"]); ok {
		clip.PauseAt = &pauseAt
	}
	if fps, ok := timeline.AsInt(fields["fps"]); ok && fps > 0 {
		clip.FPS = fps
	}
	if mode, ok := fields["mode"].(string); ok && Mode(mode) == ModeSpeed {
		clip.Mode = ModeSpeed
	}
	return clip, nil
}

// queueKeyFor resolves ClipState.QueueKey: the port id itself by
// default, overridable per mapping via Options["queueKey"]. Diff queues
// every command under the port id, so the override does not change how
// commands serialize.
func queueKeyFor(portID string, options map[string]any) string {
	if key, ok := options["queueKey"].(string); ok && key != "" {
		return key
	}
	return portID
}
