package conductor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/timelineresolver-go/internal/api"
	"github.com/strefethen/timelineresolver-go/internal/apperrors"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// RegisterRoutes mounts the device control surface.
func RegisterRoutes(router chi.Router, c *Conductor) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(listDevices(c)))
	router.Method(http.MethodGet, "/v1/devices/{deviceID}", api.Handler(getDevice(c)))
	router.Method(http.MethodGet, "/v1/devices/{deviceID}/queue", api.Handler(getDeviceQueue(c)))
	router.Method(http.MethodPost, "/v1/devices/{deviceID}/make-ready", api.Handler(makeReady(c)))
	router.Method(http.MethodPost, "/v1/devices/{deviceID}/clear-future", api.Handler(clearFuture(c)))
	router.Method(http.MethodPost, "/v1/timeline", api.Handler(postTimeline(c)))
}

func formatDevice(reg *Registered) map[string]any {
	status := reg.Facade.GetStatus()
	return map[string]any{
		"object":    "device",
		"id":        reg.ID,
		"kind":      string(reg.Kind),
		"connected": reg.Facade.Connected(),
		"status": map[string]any{
			"code":     string(status.Code),
			"messages": status.Messages,
			"active":   status.Active,
		},
	}
}

func listDevices(c *Conductor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		devices := c.Devices()
		data := make([]map[string]any, 0, len(devices))
		for _, reg := range devices {
			data = append(data, formatDevice(reg))
		}
		return api.WriteList(w, "/v1/devices", data, false)
	}
}

func getDevice(c *Conductor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		reg, ok := c.Device(chi.URLParam(r, "deviceID"))
		if !ok {
			return apperrors.NewNotFoundError("unknown device id")
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(reg))
	}
}

func getDeviceQueue(c *Conductor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		deviceID := chi.URLParam(r, "deviceID")
		reg, ok := c.Device(deviceID)
		if !ok {
			return apperrors.NewNotFoundError("unknown device id")
		}
		inspector, ok := reg.Facade.(QueueInspector)
		if !ok {
			return apperrors.NewValidationError("device does not expose its queue", nil)
		}

		entries := inspector.QueueSnapshot()
		data := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			data = append(data, map[string]any{
				"object":    "queue_entry",
				"fire_at":   e.FireAt,
				"queue_key": e.QueueKey,
			})
		}
		return api.WriteList(w, "/v1/devices/"+deviceID+"/queue", data, false)
	}
}

func makeReady(c *Conductor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		reg, ok := c.Device(chi.URLParam(r, "deviceID"))
		if !ok {
			return apperrors.NewNotFoundError("unknown device id")
		}

		var body struct {
			OkToDestroy bool `json:"ok_to_destroy"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		c.mu.Lock()
		err := reg.Facade.MakeReady(r.Context(), body.OkToDestroy)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":        "make_ready_result",
			"device_id":     reg.ID,
			"ok_to_destroy": body.OkToDestroy,
		})
	}
}

func clearFuture(c *Conductor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		reg, ok := c.Device(chi.URLParam(r, "deviceID"))
		if !ok {
			return apperrors.NewNotFoundError("unknown device id")
		}

		var body struct {
			Time *int64 `json:"time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Time == nil {
			return apperrors.NewValidationError("time is required", nil)
		}

		c.mu.Lock()
		reg.Facade.ClearFuture(*body.Time)
		c.mu.Unlock()
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":    "clear_future_result",
			"device_id": reg.ID,
			"time":      *body.Time,
		})
	}
}

func postTimeline(c *Conductor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var snapshot timeline.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
			return apperrors.NewValidationError("invalid timeline snapshot body", nil)
		}
		if snapshot.Time <= 0 {
			return apperrors.NewValidationError("snapshot time must be positive", nil)
		}

		err := c.HandleTimeline(snapshot, nil)
		if err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusAccepted, map[string]any{
			"object": "timeline_result",
			"time":   snapshot.Time,
			"layers": len(snapshot.Layers),
		})
	}
}
