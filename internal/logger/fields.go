package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing fields (propagated through context)
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldNicheID is the niche processing job ID
	FieldNicheID = "niche_id"

	// FieldASIN is the product identifier currently being processed
	FieldASIN = "asin"

	// FieldProvider is the external data provider name
	FieldProvider = "provider"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Metric fields (Entry level)
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
)
