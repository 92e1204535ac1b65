package audit

// EventType represents the type of audit event: the façade lifecycle
// signals and dispatched-command outcomes worth
// persisting for later inspection.
type EventType string

const (
	EventCommandQueued     EventType = "COMMAND_QUEUED"
	EventCommandDispatched EventType = "COMMAND_DISPATCHED"
	EventCommandSucceeded  EventType = "COMMAND_SUCCEEDED"
	EventCommandFailed     EventType = "COMMAND_FAILED"
	EventCommandRetried    EventType = "COMMAND_RETRIED"
	EventHandleStateFailed EventType = "HANDLE_STATE_FAILED"
	EventInvalidMapping    EventType = "INVALID_MAPPING"
	EventDeviceConnected   EventType = "DEVICE_CONNECTED"
	EventDeviceDisconnected EventType = "DEVICE_DISCONNECTED"
	EventMakeReadyCompleted EventType = "MAKE_READY_COMPLETED"
	EventSystemStartup     EventType = "SYSTEM_STARTUP"
	EventSystemError       EventType = "SYSTEM_ERROR"
)

// EventCorrelation contains IDs that link related events together.
type EventCorrelation struct {
	RequestID     *string `json:"request_id,omitempty"`
	DeviceID      *string `json:"device_id,omitempty"`
	CommandKind   *string `json:"command_kind,omitempty"`
	QueueKey      *string `json:"queue_key,omitempty"`
	TimelineObjID *string `json:"timeline_obj_id,omitempty"`
}

// Alias constants to match new naming convention while preserving compatibility
// with existing code that uses EventLevel* prefix.
const (
	LevelDebug = EventLevelDebug
	LevelInfo  = EventLevelInfo
	LevelWarn  = EventLevelWarn
	LevelError = EventLevelError
)
