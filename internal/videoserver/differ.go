package videoserver

import (
	"reflect"
	"sort"
)

// Diff computes the ordered set of port operations needed to move from
// old to new. oldStateTime is the timestamp old was committed at; it
// anchors the prepare-ahead formula so a prepare command never precedes
// the state it is diffing from.
func Diff(old, new DeviceState, transitionTime, oldStateTime int64) ([]Command, error) {
	prepareAt := prepareTime(oldStateTime, transitionTime)

	var commands []Command
	for portID, newPort := range new {
		oldPort, existed := old[portID]

		if !existed || oldPort.Channel != newPort.Channel {
			commands = append(commands, Command{
				ExecuteAt:     prepareAt,
				QueueKey:      portID,
				Kind:          KindSetupPort,
				PortID:        portID,
				TimelineObjID: newPort.TimelineObjID,
				Context:       "port " + portID + " channel binding changed",
				Channel:       newPort.Channel,
			})
		}

		var oldClip, oldNextUp *ClipState
		if existed {
			oldClip = oldPort.Clip
			oldNextUp = oldPort.NextUp
		}
		commands = append(commands, clipCommands(portID, newPort.TimelineObjID, oldClip, newPort.Clip, prepareAt, transitionTime)...)
		commands = append(commands, nextUpCommands(portID, newPort, oldNextUp, prepareAt)...)
	}

	for portID := range old {
		if _, stillPresent := new[portID]; stillPresent {
			continue
		}
		commands = append(commands, Command{
			ExecuteAt: transitionTime,
			QueueKey:  portID,
			Kind:      KindReleasePort,
			PortID:    portID,
			Context:   "port " + portID + " no longer mapped",
		})
	}

	sort.SliceStable(commands, func(i, j int) bool { return commands[i].PortID < commands[j].PortID })
	return commands, nil
}

func clipCommands(portID, timelineObjID string, oldClip, newClip *ClipState, prepareAt, transitionTime int64) []Command {
	if newClip == nil {
		if oldClip == nil {
			return nil
		}
		return []Command{{
			ExecuteAt: transitionTime,
			QueueKey:  portID,
			Kind:      KindClearClip,
			PortID:    portID,
			Context:   "port " + portID + " clip cleared",
		}}
	}

	if oldClip != nil && reflect.DeepEqual(*oldClip, *newClip) {
		return nil
	}

	transitionKind := KindPlayClip
	if !newClip.Playing {
		transitionKind = KindPauseClip
	}

	clip := *newClip
	return []Command{
		{
			ExecuteAt:     prepareAt,
			QueueKey:      portID,
			Kind:          KindLoadFragments,
			PortID:        portID,
			TimelineObjID: timelineObjID,
			Context:       "port " + portID + " clip changed to " + newClip.Title,
			Clip:          &clip,
		},
		{
			ExecuteAt:     transitionTime,
			QueueKey:      portID,
			Kind:          transitionKind,
			PortID:        portID,
			TimelineObjID: timelineObjID,
			Context:       "port " + portID + " transition for " + newClip.Title,
			Clip:          &clip,
		},
	}
}

// nextUpCommands stages a changed lookahead clip ahead of its own
// transition. A lookahead never plays; it only loads, so a real
// foreground arriving later finds its fragments already on the port.
func nextUpCommands(portID string, newPort PortState, oldNextUp *ClipState, prepareAt int64) []Command {
	next := newPort.NextUp
	if next == nil {
		return nil
	}
	if oldNextUp != nil && reflect.DeepEqual(*oldNextUp, *next) {
		return nil
	}
	if newPort.Clip != nil && newPort.Clip.Title == next.Title {
		// The foreground transition already loads this clip.
		return nil
	}

	clip := *next
	return []Command{{
		ExecuteAt: prepareAt,
		QueueKey:  portID,
		Kind:      KindLoadFragments,
		PortID:    portID,
		Context:   "port " + portID + " next up " + next.Title,
		Clip:      &clip,
	}}
}

// prepareTime places prepare-ahead commands no earlier than
// oldStateTime + PrepareWaitMS, and ideally IdealPrepareMS before the
// transition. When the transition is too close for the full wait, the
// prepare fires at the transition itself; it never fires after it.
func prepareTime(oldStateTime, transitionTime int64) int64 {
	floor := oldStateTime + PrepareWaitMS
	ideal := transitionTime - IdealPrepareMS
	at := floor
	if ideal > floor {
		at = ideal
	}
	if at > transitionTime {
		at = transitionTime
	}
	return at
}
