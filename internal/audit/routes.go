package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/timelineresolver-go/internal/api"
	"github.com/strefethen/timelineresolver-go/internal/apperrors"
)

// MaxMessageLength is the maximum allowed length for audit event messages.
const MaxMessageLength = 2000

// validEventTypes defines all valid audit event types.
var validEventTypes = map[string]bool{
	string(EventCommandQueued):      true,
	string(EventCommandDispatched):  true,
	string(EventCommandSucceeded):   true,
	string(EventCommandFailed):      true,
	string(EventCommandRetried):     true,
	string(EventHandleStateFailed):  true,
	string(EventInvalidMapping):     true,
	string(EventDeviceConnected):    true,
	string(EventDeviceDisconnected): true,
	string(EventMakeReadyCompleted): true,
	string(EventSystemStartup):      true,
	string(EventSystemError):        true,
}

// validEventLevels defines all valid audit event levels.
var validEventLevels = map[string]EventLevel{
	"DEBUG": EventLevelDebug,
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// ==========================================================================
// Request Types
// ==========================================================================

// CreateEventRequest represents the request body for POST /v1/audit/events.
type CreateEventRequest struct {
	Type        string                  `json:"type"`
	Level       string                  `json:"level,omitempty"`
	Message     string                  `json:"message"`
	Correlation *CreateEventCorrelation `json:"correlation,omitempty"`
	Payload     map[string]any          `json:"payload,omitempty"`
}

// CreateEventCorrelation contains correlation IDs for linking related events.
type CreateEventCorrelation struct {
	RequestID     *string `json:"request_id,omitempty"`
	DeviceID      *string `json:"device_id,omitempty"`
	CommandKind   *string `json:"command_kind,omitempty"`
	QueueKey      *string `json:"queue_key,omitempty"`
	TimelineObjID *string `json:"timeline_obj_id,omitempty"`
}

// ==========================================================================
// Route Registration
// ==========================================================================

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/events", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/audit/events/{event_id}", api.Handler(getEvent(service)))
	router.Method(http.MethodPost, "/v1/audit/events", api.Handler(recordEvent(service)))
}

// ==========================================================================
// Handlers
// ==========================================================================

// queryEvents retrieves audit events with optional filters.
// GET /v1/audit/events
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		events, total, hasMore, err := service.QueryEvents(filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query audit events")
		}

		formatted := make([]map[string]any, 0, len(events))
		for _, event := range events {
			formatted = append(formatted, formatEvent(&event))
		}

		pagination := &api.Pagination{
			Total:   total,
			Limit:   filters.Limit,
			Offset:  filters.Offset,
			HasMore: hasMore,
		}
		return api.ListResponse(w, r, http.StatusOK, "events", formatted, pagination)
	}
}

// getEvent retrieves a single audit event by ID.
// GET /v1/audit/events/{event_id}
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(eventID)
		if err != nil {
			var notFoundErr *EventNotFoundError
			if errors.As(err, &notFoundErr) {
				return apperrors.NewNotFoundError("Event not found")
			}
			return apperrors.NewInternalError("Failed to get audit event")
		}

		return api.SingleResponse(w, r, http.StatusOK, "event", formatEvent(event))
	}
}

// recordEvent creates a new audit event.
// POST /v1/audit/events
func recordEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req CreateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		if req.Type == "" {
			return apperrors.NewValidationError("type is required", nil)
		}

		if !validEventTypes[req.Type] {
			return apperrors.NewValidationError("invalid event type", map[string]any{
				"type": req.Type,
			})
		}

		if len(req.Message) > MaxMessageLength {
			return apperrors.NewValidationError("message too long", map[string]any{
				"max_length":    MaxMessageLength,
				"actual_length": len(req.Message),
			})
		}

		input := WriteEventInput{
			Type:    req.Type,
			Message: req.Message,
			Payload: req.Payload,
		}

		if req.Level != "" {
			level, ok := validEventLevels[req.Level]
			if !ok {
				return apperrors.NewValidationError("invalid level", map[string]any{
					"level":        req.Level,
					"valid_levels": []string{"DEBUG", "INFO", "WARN", "ERROR"},
				})
			}
			input.Level = &level
		}

		if req.Correlation != nil {
			input.RequestID = req.Correlation.RequestID
			input.DeviceID = req.Correlation.DeviceID
			input.CommandKind = req.Correlation.CommandKind
			input.QueueKey = req.Correlation.QueueKey
			input.TimelineObjID = req.Correlation.TimelineObjID
		}

		event, err := service.RecordEvent(input)
		if err != nil {
			return apperrors.NewInternalError("Failed to record audit event")
		}

		return api.SingleResponse(w, r, http.StatusCreated, "event", formatEvent(event))
	}
}

// ==========================================================================
// Helper Functions
// ==========================================================================

// parseQueryFilters extracts and validates query parameters for event filtering.
func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{
		Limit:  DefaultQueryLimit,
		Offset: 0,
	}

	query := r.URL.Query()

	if from := query.Get("from"); from != "" {
		if _, err := time.Parse(time.RFC3339, from); err != nil {
			return filters, apperrors.NewValidationError("invalid 'from' datetime format, expected ISO 8601", map[string]any{"from": from})
		}
		filters.StartDate = &from
	}

	if to := query.Get("to"); to != "" {
		if _, err := time.Parse(time.RFC3339, to); err != nil {
			return filters, apperrors.NewValidationError("invalid 'to' datetime format, expected ISO 8601", map[string]any{"to": to})
		}
		filters.EndDate = &to
	}

	if eventType := query.Get("type"); eventType != "" {
		filters.Type = &eventType
	}

	if level := query.Get("level"); level != "" {
		parsedLevel, ok := validEventLevels[level]
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        level,
				"valid_levels": []string{"DEBUG", "INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = &parsedLevel
	}

	if deviceID := query.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	if commandKind := query.Get("command_kind"); commandKind != "" {
		filters.CommandKind = &commandKind
	}
	if timelineObjID := query.Get("timeline_obj_id"); timelineObjID != "" {
		filters.TimelineObjID = &timelineObjID
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{
				"limit": limitStr,
			})
		}
		filters.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{
				"offset": offsetStr,
			})
		}
		filters.Offset = offset
	}

	return filters, nil
}

// formatEvent formats an AuditEvent for JSON response.
func formatEvent(event *AuditEvent) map[string]any {
	result := map[string]any{
		"event_id":  event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
		"type":      event.Type,
		"level":     string(event.Level),
		"message":   event.Message,
	}

	correlation := map[string]any{}
	if event.RequestID != nil {
		correlation["request_id"] = *event.RequestID
	}
	if event.DeviceID != nil {
		correlation["device_id"] = *event.DeviceID
	}
	if event.CommandKind != nil {
		correlation["command_kind"] = *event.CommandKind
	}
	if event.QueueKey != nil {
		correlation["queue_key"] = *event.QueueKey
	}
	if event.TimelineObjID != nil {
		correlation["timeline_obj_id"] = *event.TimelineObjID
	}
	if len(correlation) > 0 {
		result["correlation"] = correlation
	}

	if event.Payload != nil && len(event.Payload) > 0 {
		result["payload"] = event.Payload
	}

	return result
}
