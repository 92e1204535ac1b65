package wsstatus

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/timelineresolver-go/internal/device"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-deployment; auth happens via the bearer
	// token middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// KnownDevice reports whether a device id exists, so the upgrade can be
// rejected before hijacking the connection.
type KnownDevice func(deviceID string) bool

// RegisterRoutes mounts the live status stream endpoint.
func RegisterRoutes(router chi.Router, hub *Hub, known KnownDevice) {
	router.Get("/v1/devices/{deviceID}/live", func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceID")
		if known != nil && !known(deviceID) {
			http.Error(w, "unknown device id", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(deviceID, conn)
	})
}

// SignalsFor builds a device.Signals that mirrors every emitted façade
// event into the hub as a Frame for deviceID, chained in front of next
// so existing signal consumers keep firing.
func SignalsFor(hub *Hub, deviceID string, next device.Signals) device.Signals {
	now := func() int64 { return time.Now().UnixMilli() }

	return device.Signals{
		OnError: func(source string, err error) {
			hub.Broadcast(Frame{Type: "error", DeviceID: deviceID, Timestamp: now(), Payload: map[string]any{
				"source": source, "error": err.Error(),
			}})
			if next.OnError != nil {
				next.OnError(source, err)
			}
		},
		OnWarning: func(msg string) {
			hub.Broadcast(Frame{Type: "warning", DeviceID: deviceID, Timestamp: now(), Payload: msg})
			if next.OnWarning != nil {
				next.OnWarning(msg)
			}
		},
		OnCommandError: func(err error, commandContext string) {
			hub.Broadcast(Frame{Type: "commandError", DeviceID: deviceID, Timestamp: now(), Payload: map[string]any{
				"error": err.Error(), "context": commandContext,
			}})
			if next.OnCommandError != nil {
				next.OnCommandError(err, commandContext)
			}
		},
		OnDebug: func(payload any) {
			hub.Broadcast(Frame{Type: "debug", DeviceID: deviceID, Timestamp: now(), Payload: payload})
			if next.OnDebug != nil {
				next.OnDebug(payload)
			}
		},
		OnConnectionChanged: func(status device.Status) {
			hub.Broadcast(Frame{Type: "connectionChanged", DeviceID: deviceID, Timestamp: now(), Payload: map[string]any{
				"code": string(status.Code), "messages": status.Messages, "active": status.Active,
			}})
			if next.OnConnectionChanged != nil {
				next.OnConnectionChanged(status)
			}
		},
		OnResetResolver: func() {
			hub.Broadcast(Frame{Type: "resetResolver", DeviceID: deviceID, Timestamp: now()})
			if next.OnResetResolver != nil {
				next.OnResetResolver()
			}
		},
		OnSlowCommand: func(msg string) {
			hub.Broadcast(Frame{Type: "slowCommand", DeviceID: deviceID, Timestamp: now(), Payload: msg})
			if next.OnSlowCommand != nil {
				next.OnSlowCommand(msg)
			}
		},
		OnTimeTrace: func(trace string) {
			hub.Broadcast(Frame{Type: "timeTrace", DeviceID: deviceID, Timestamp: now(), Payload: trace})
			if next.OnTimeTrace != nil {
				next.OnTimeTrace(trace)
			}
		},
	}
}
