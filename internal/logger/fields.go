package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields propagated through the call chain.
const (
	FieldRequestID = "request_id"
	FieldComponent = "component"
	FieldOwnerID   = "owner_id"

	// FieldImportID identifies the bulk import batch.
	FieldImportID = "import_id"
	// FieldItemID identifies one item within an import.
	FieldItemID = "item_id"
	// FieldMediaID identifies a stored media record.
	FieldMediaID = "media_id"
	// FieldAction is the pipeline action currently executing.
	FieldAction = "action"
	// FieldTaskType is the queue task type being handled.
	FieldTaskType = "task_type"
)

// Metric fields used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
