package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldBatchID is the batch ingestion run ID
	FieldBatchID = "batch_id"

	// FieldPageID is the page identifier a batch was collected from
	FieldPageID = "page_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldSource is the collector source identifier
	FieldSource = "source"

	// FieldFingerprint is the dedup identity of a content record
	FieldFingerprint = "fingerprint"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldAttempt is the retry attempt number
	FieldAttempt = "attempt"
)
