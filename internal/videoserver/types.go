// Package videoserver is a video-server port controller that tracks
// loaded fragments and jump offsets out-of-band from the timed command
// queue. It is the stateful counterpart to internal/httpdevice.
package videoserver

import "github.com/strefethen/timelineresolver-go/internal/timeline"

// KindVideoServer is the DeviceKind a Mapping must carry to target this
// device.
const KindVideoServer timeline.DeviceKind = "VIDEO_SERVER"

// Mode biases the executor's jump strategy toward clean transitions
// (QUALITY) or minimum latency (SPEED).
type Mode string

const (
	ModeQuality Mode = "QUALITY"
	ModeSpeed   Mode = "SPEED"
)

// DefaultFPS is the playback rate assumed when clip metadata provides
// none.
const DefaultFPS = 50

// JumpErrorMargin is the frame tolerance before a prepared jump is
// considered stale and must be recomputed.
const JumpErrorMargin = 5

// SoftJumpWaitMS is how long the executor waits for the server to stage
// a soft jump before optionally stopping and triggering it. The wait
// applies on the pause path too, matching observed server behavior.
const SoftJumpWaitMS = 100

// PrepareWaitMS and IdealPrepareMS parameterize the differ's
// prepare-ahead formula:
// executeAt = min(transitionTime, max(oldStateTime + PrepareWaitMS, transitionTime - IdealPrepareMS)).
const (
	PrepareWaitMS  = 50
	IdealPrepareMS = 1000
)

// ClipState is a port's desired clip content, as projected from the
// timeline.
type ClipState struct {
	Title    string
	Playing  bool
	PauseAt  *int64
	PlayAt   int64
	FPS      int
	Mode     Mode
	QueueKey string
}

// PortState is one port's desired state: the channel it should be bound
// to, the clip (if any) that should be loaded/playing on it, and the
// lookahead clip (if any) to stage ahead of its own transition.
// TimelineObjID is carried for command attribution only; the differ
// compares Channel, Clip and NextUp.
type PortState struct {
	Channel       int
	Clip          *ClipState
	NextUp        *ClipState
	TimelineObjID string
}

// DeviceState projects a Snapshot onto this device: one PortState per
// mapped port id. A nil map is the empty state.
type DeviceState map[string]PortState

// Kind enumerates the command kinds this device's differ emits.
type Kind string

const (
	KindSetupPort     Kind = "SETUP_PORT"
	KindLoadFragments Kind = "LOAD_FRAGMENTS"
	KindPlayClip      Kind = "PLAY_CLIP"
	KindPauseClip     Kind = "PAUSE_CLIP"
	KindClearClip     Kind = "CLEAR_CLIP"
	KindReleasePort   Kind = "RELEASE_PORT"
)

// Command is one dispatched port operation, timed by the differ.
type Command struct {
	ExecuteAt     int64
	QueueKey      string
	Kind          Kind
	PortID        string
	TimelineObjID string
	Context       string
	Channel       int
	Clip          *ClipState
}

// TrackedPort is the executor's out-of-band belief about one port's
// remote state. Owned exclusively by the executor; never shared across
// devices.
type TrackedPort struct {
	Channel         int
	LoadedFragments map[string]FragmentRange
	Offset          int64
	Playing         bool
	JumpOffset      *int64
	ScheduledStop   *int64
}

// FragmentRange is a loaded clip's in/out point pair on a port, keyed by
// clip title in TrackedPort.LoadedFragments.
type FragmentRange struct {
	InPointFrames  int64
	OutPointFrames int64
	PortInPoint    int64
	PortOutPoint   int64
}
