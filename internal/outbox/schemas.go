package outbox

const syncCompletedSchema = `{
  "type": "object",
  "title": "WearableSyncCompleted",
  "properties": {
    "user_id": {"type": "string"},
    "platform": {"type": "string"},
    "sync_log_id": {"type": "string"},
    "status": {"type": "string"},
    "records_synced": {"type": "integer"},
    "dates": {"type": "array", "items": {"type": "string", "format": "date"}},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "platform", "sync_log_id", "status", "records_synced", "occurred_at"],
  "additionalProperties": false
}`

const connectionDeactivatedSchema = `{
  "type": "object",
  "title": "WearableConnectionDeactivated",
  "properties": {
    "user_id": {"type": "string"},
    "platform": {"type": "string"},
    "sync_log_id": {"type": "string"},
    "status": {"type": "string"},
    "records_synced": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "platform", "status", "occurred_at"],
  "additionalProperties": false
}`
