package httpdevice

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/strefethen/timelineresolver-go/internal/apperrors"
)

// statusError marks a completed request the device answered with a
// non-2xx status. It is surfaced as a warning, not a command failure.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// Executor dispatches Commands to the real device, applying a per-layer
// relevance check and a bounded retry wave for transient network
// failures.
type Executor struct {
	sender       Sender
	resendTimeMs int
	onWarning    func(msg string)

	mu       sync.Mutex
	lastSent map[string]Content
}

// NewExecutor builds an Executor. resendTimeMs of 0 disables the retry
// wave; values <= 1ms are treated the same way.
func NewExecutor(sender Sender, resendTimeMs int) *Executor {
	return &Executor{
		sender:       sender,
		resendTimeMs: resendTimeMs,
		lastSent:     make(map[string]Content),
	}
}

// Execute sends cmd's content, skipping the send entirely when it is
// identical to the last content actually dispatched for that layer: a
// send is idempotent, so a repeat of unchanged content is dropped rather
// than re-fired. On a retryable network failure, and when a resend time
// is configured, it waits out the remainder of the resend window and
// reissues the request exactly one further time. A response with a
// non-2xx status counts as delivered: it raises a warning but not a
// command error.
func (ex *Executor) Execute(ctx context.Context, cmd Command) error {
	ex.mu.Lock()
	prior, seen := ex.lastSent[cmd.LayerID]
	ex.mu.Unlock()
	if seen && reflect.DeepEqual(prior, cmd.Content) {
		return nil
	}

	started := time.Now()
	err := ex.send(ctx, cmd)
	if err != nil {
		if _, retryable := ClassifyNetworkError(err); retryable && ex.resendTimeMs > 1 {
			wait := time.Duration(ex.resendTimeMs)*time.Millisecond - time.Since(started)
			if wait < 0 {
				wait = 0
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return apperrors.NewNetworkError(fmt.Sprintf("canceled before retry: %v", err))
			}
			err = ex.send(ctx, cmd)
		}
	}
	if err != nil {
		if st, ok := err.(*statusError); ok {
			if ex.onWarning != nil {
				ex.onWarning(fmt.Sprintf("device responded %d for %s %s", st.code, cmd.Content.Method, cmd.Content.URL))
			}
		} else if code, retryable := ClassifyNetworkError(err); retryable {
			return apperrors.NewNetworkError(fmt.Sprintf("%s: %v", code, err))
		} else {
			return apperrors.NewProtocolError(err.Error(), map[string]any{"url": cmd.Content.URL})
		}
	}

	ex.mu.Lock()
	ex.lastSent[cmd.LayerID] = cmd.Content
	ex.mu.Unlock()
	return nil
}

func (ex *Executor) send(ctx context.Context, cmd Command) error {
	resp, err := ex.sender.HTTPRequest(ctx, cmd.Content.Method, cmd.Content.URL, cmd.Content.Params)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, msg: fmt.Sprintf("device responded %d", resp.StatusCode)}
	}
	return nil
}

// ForgetLayer drops the relevance fingerprint for layerID, forcing the
// next Execute for it to send regardless of content equality.
func (ex *Executor) ForgetLayer(layerID string) {
	ex.mu.Lock()
	delete(ex.lastSent, layerID)
	ex.mu.Unlock()
}

// ForgetAll drops every relevance fingerprint.
func (ex *Executor) ForgetAll() {
	ex.mu.Lock()
	ex.lastSent = make(map[string]Content)
	ex.mu.Unlock()
}
