// Package httpdevice turns timeline layers into fire-and-forget HTTP
// requests. It is the stateless counterpart to internal/videoserver.
package httpdevice

import "github.com/strefethen/timelineresolver-go/internal/timeline"

// KindHTTP is the DeviceKind a Mapping must carry to target this device.
const KindHTTP timeline.DeviceKind = "HTTP_SEND"

// Method is the HTTP verb a layer's content requests.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Content is one layer's resolved HTTP request shape.
type Content struct {
	Method           Method
	URL              string
	Params           map[string]any
	TemporalPriority *int
	QueueID          string
}

// LayerState is a device-output-layer's resolved content plus its
// lookahead preview, per the generic foreground/lookahead policy in
// internal/timeline.
type LayerState struct {
	TimelineObjID string
	Content       Content
	NextUp        *Content
}

// DeviceState projects a Snapshot onto this device: one LayerState per
// mapped layer id. The nil map is the empty state; Diff treats it the
// same as an empty map.
type DeviceState map[string]LayerState

// Kind enumerates the command kinds this device's differ emits.
type Kind string

const (
	KindSend Kind = "SEND"
)

// Command is one dispatched HTTP request, timed by the differ.
type Command struct {
	ExecuteAt     int64
	QueueKey      string
	Kind          Kind
	LayerID       string
	TimelineObjID string
	Context       string
	Content       Content
}
