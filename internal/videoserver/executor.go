package videoserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/strefethen/timelineresolver-go/internal/apperrors"
	"github.com/strefethen/timelineresolver-go/internal/clock"
	"github.com/strefethen/timelineresolver-go/internal/ttlcache"
)

// ClipCacheTTL is how long a resolved clip title->id lookup is trusted
// before a fresh SearchClip call is required.
const ClipCacheTTL = 30 * time.Second

// Executor interprets dispatched Commands against its tracked model of
// the remote server and the stateful device protocol. Tracked state is
// updated only after a successful protocol acknowledgement; on failure
// it is left unchanged so a later retry or resync converges.
type Executor struct {
	collab Collaborator
	now    clock.Source

	clipCache *ttlcache.Cache[string, Clip]

	mu      sync.Mutex
	tracked map[string]*TrackedPort
}

// NewExecutor builds an Executor bound to collab and the given time
// source. The executor never reads the wall clock itself.
func NewExecutor(collab Collaborator, now clock.Source) *Executor {
	return &Executor{
		collab:    collab,
		now:       now,
		clipCache: ttlcache.New[string, Clip](ClipCacheTTL),
		tracked:   make(map[string]*TrackedPort),
	}
}

// SetClipCacheTTL replaces the clip-resolution cache with one using the
// given TTL. Call before the first command is dispatched; resolved
// entries do not survive the swap.
func (ex *Executor) SetClipCacheTTL(ttl time.Duration) {
	ex.clipCache = ttlcache.New[string, Clip](ttl)
}

// Execute dispatches cmd by Kind.
func (ex *Executor) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindSetupPort:
		return ex.setupPort(ctx, cmd)
	case KindLoadFragments:
		return ex.loadFragments(ctx, cmd)
	case KindPlayClip:
		return ex.playOrPause(ctx, cmd, true)
	case KindPauseClip:
		return ex.playOrPause(ctx, cmd, false)
	case KindClearClip:
		return ex.clearClip(ctx, cmd)
	case KindReleasePort:
		return ex.releasePort(ctx, cmd)
	default:
		return apperrors.NewUnsupportedCommandError(string(cmd.Kind))
	}
}

func (ex *Executor) trackedPort(portID string) (*TrackedPort, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	tp, ok := ex.tracked[portID]
	return tp, ok
}

// setupPort is a no-op when the tracked entry already reflects the
// requested channel binding, otherwise release-then-recreate against the
// remote device.
func (ex *Executor) setupPort(ctx context.Context, cmd Command) error {
	if tp, ok := ex.trackedPort(cmd.PortID); ok && tp.Channel == cmd.Channel {
		return nil
	}

	if _, found, err := ex.collab.GetPort(ctx, cmd.PortID); err != nil {
		return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
	} else if found {
		if err := ex.collab.ReleasePort(ctx, cmd.PortID); err != nil && !errors.Is(err, ErrPortNotFound) {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
	}

	if _, err := ex.collab.CreatePort(ctx, cmd.PortID, cmd.Channel); err != nil {
		return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
	}

	ex.mu.Lock()
	ex.tracked[cmd.PortID] = &TrackedPort{
		Channel:         cmd.Channel,
		LoadedFragments: make(map[string]FragmentRange),
	}
	ex.mu.Unlock()
	return nil
}

// loadFragments resolves the clip title via the TTL cache, reuses the
// already-loaded fragment range when the exact (in,out) pair is already
// on the port, and when the transition is still in the future stages a
// soft jump ahead of it so PLAY_CLIP/PAUSE_CLIP can trigger cleanly at
// transition time.
func (ex *Executor) loadFragments(ctx context.Context, cmd Command) error {
	if cmd.Clip == nil {
		return apperrors.NewStateCorruptionError("load fragments command missing clip payload for port " + cmd.PortID)
	}
	clip := *cmd.Clip

	tp, exists := ex.trackedPort(cmd.PortID)
	if !exists {
		return apperrors.NewStateCorruptionError("tracked port missing for " + cmd.PortID)
	}

	resolved, err := ex.clipCache.GetSet(clip.Title, func() (Clip, error) {
		return ex.collab.SearchClip(ctx, clip.Title)
	})
	if err != nil {
		return apperrors.NewProtocolError(err.Error(), map[string]any{"title": clip.Title})
	}
	if resolved.Pool == "" {
		return apperrors.NewProtocolError("clip "+clip.Title+" is not on a pool the server can see", map[string]any{"title": clip.Title})
	}

	fragments, err := ex.collab.GetClipFragments(ctx, resolved.ID)
	if err != nil {
		return apperrors.NewProtocolError(err.Error(), map[string]any{"clipId": resolved.ID})
	}
	if len(fragments) == 0 {
		return apperrors.NewStateCorruptionError("clip " + clip.Title + " resolved with no fragments")
	}
	inFrames := fragments[0].InPointFrames
	outFrames := fragments[len(fragments)-1].OutPointFrames

	ex.mu.Lock()
	existing, alreadyLoaded := tp.LoadedFragments[clip.Title]
	ex.mu.Unlock()

	var portIn, portOut int64
	if alreadyLoaded && existing.InPointFrames == inFrames && existing.OutPointFrames == outFrames {
		portIn, portOut = existing.PortInPoint, existing.PortOutPoint
	} else {
		portIn, portOut, err = ex.collab.LoadFragmentsOntoPort(ctx, cmd.PortID, fragments)
		if err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
		ex.mu.Lock()
		tp.LoadedFragments[clip.Title] = FragmentRange{
			InPointFrames:  inFrames,
			OutPointFrames: outFrames,
			PortInPoint:    portIn,
			PortOutPoint:   portOut,
		}
		ex.mu.Unlock()
	}

	if clip.PlayAt-ex.now() > 0 {
		stopAt := portIn - 1
		if err := ex.collab.PortStop(ctx, cmd.PortID, stopAt); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
		if err := ex.collab.PortPrepareJump(ctx, cmd.PortID, portIn); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
		ex.mu.Lock()
		jump := portIn
		stop := stopAt
		tp.JumpOffset = &jump
		tp.ScheduledStop = &stop
		ex.mu.Unlock()
	}
	return nil
}

// playOrPause shares the jump-offset arithmetic and prepared-jump
// validation between the two transition kinds. playing selects
// PLAY_CLIP's semantics (jump then start playback and schedule the
// out-point stop) versus PAUSE_CLIP's (stop at the jump target instead
// of starting playback).
func (ex *Executor) playOrPause(ctx context.Context, cmd Command, playing bool) error {
	if cmd.Clip == nil {
		return apperrors.NewStateCorruptionError("play/pause command missing clip payload for port " + cmd.PortID)
	}
	clip := *cmd.Clip

	tp, exists := ex.trackedPort(cmd.PortID)
	if !exists {
		return apperrors.NewStateCorruptionError("tracked port missing for " + cmd.PortID)
	}

	ex.mu.Lock()
	frag, loaded := tp.LoadedFragments[clip.Title]
	ex.mu.Unlock()
	if !loaded {
		return apperrors.NewStateCorruptionError("clip " + clip.Title + " not loaded on port " + cmd.PortID)
	}

	fps := clip.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}

	effectiveTime := ex.now()
	if !playing && clip.PauseAt != nil {
		effectiveTime = *clip.PauseAt
	}
	elapsed := effectiveTime - clip.PlayAt
	if elapsed < 0 {
		elapsed = 0
	}
	jumpToOffset := frag.PortInPoint + framesFloor(elapsed, fps)

	ex.mu.Lock()
	validJump := tp.JumpOffset != nil && abs64(*tp.JumpOffset-jumpToOffset) <= JumpErrorMargin
	ex.mu.Unlock()

	triggerJump := func() error {
		if !playing {
			if err := ex.collab.PortStop(ctx, cmd.PortID, jumpToOffset); err != nil {
				return err
			}
		}
		return ex.collab.PortTriggerJump(ctx, cmd.PortID)
	}

	switch {
	case validJump:
		if err := triggerJump(); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
	case clip.Mode == ModeSpeed:
		if err := ex.collab.PortHardJump(ctx, cmd.PortID, jumpToOffset); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
	default:
		// QUALITY mode: stage the jump and give the server time to
		// land it before triggering. The wait applies on the pause
		// path too.
		if err := ex.collab.PortPrepareJump(ctx, cmd.PortID, jumpToOffset); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
		select {
		case <-time.After(SoftJumpWaitMS * time.Millisecond):
		case <-ctx.Done():
			return apperrors.NewNetworkError("context canceled during soft jump wait for port " + cmd.PortID)
		}
		if err := triggerJump(); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
	}

	if playing {
		if err := ex.collab.PortPlay(ctx, cmd.PortID); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
		if err := ex.collab.PortStop(ctx, cmd.PortID, frag.PortOutPoint); err != nil {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
		}
		ex.mu.Lock()
		stop := frag.PortOutPoint
		tp.ScheduledStop = &stop
		ex.mu.Unlock()
	}

	ex.mu.Lock()
	jump := jumpToOffset
	tp.JumpOffset = &jump
	tp.Playing = playing
	ex.mu.Unlock()
	return nil
}

func (ex *Executor) clearClip(ctx context.Context, cmd Command) error {
	if err := ex.collab.PortClear(ctx, cmd.PortID); err != nil {
		return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
	}
	ex.mu.Lock()
	if tp, ok := ex.tracked[cmd.PortID]; ok {
		tp.JumpOffset = nil
		tp.LoadedFragments = make(map[string]FragmentRange)
		tp.ScheduledStop = nil
		tp.Playing = false
	}
	ex.mu.Unlock()
	return nil
}

// releasePort drops the tracked entry after releasing the remote port.
// A 404 (reported as ErrPortNotFound) is non-fatal: the port is already
// gone.
func (ex *Executor) releasePort(ctx context.Context, cmd Command) error {
	if err := ex.collab.ReleasePort(ctx, cmd.PortID); err != nil && !errors.Is(err, ErrPortNotFound) {
		return apperrors.NewProtocolError(err.Error(), map[string]any{"portId": cmd.PortID})
	}
	ex.mu.Lock()
	delete(ex.tracked, cmd.PortID)
	ex.mu.Unlock()
	return nil
}

// framesFloor converts an elapsed millisecond duration to frames at fps,
// flooring rather than rounding.
func framesFloor(ms int64, fps int) int64 {
	return (ms * int64(fps)) / 1000
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
