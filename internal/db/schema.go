package db

const schemaSQL = `
-- ==========================================================================
-- AUDIT LOG
--
-- A durable trail of dispatched-command and façade-lifecycle events.
-- Correlation ids link a row back to the device a command targeted, the
-- command kind that was dispatched, the per-port/per-layer queueKey it
-- serialized under, and the timeline object that produced it.
-- ==========================================================================

CREATE TABLE IF NOT EXISTS audit_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type TEXT NOT NULL,
  level TEXT NOT NULL,
  request_id TEXT,
  device_id TEXT,
  command_kind TEXT,
  queue_key TEXT,
  timeline_obj_id TEXT,
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type);
CREATE INDEX IF NOT EXISTS idx_audit_events_level ON audit_events(level);
CREATE INDEX IF NOT EXISTS idx_audit_events_device_id ON audit_events(device_id) WHERE device_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_audit_events_command_kind ON audit_events(command_kind) WHERE command_kind IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_audit_events_timeline_obj_id ON audit_events(timeline_obj_id) WHERE timeline_obj_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp_level ON audit_events(timestamp DESC, level);
`
