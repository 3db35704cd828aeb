package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields, propagated through the call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldJobID is the parse job ID.
	FieldJobID = "job_id"

	// FieldWorkerID identifies the worker process.
	FieldWorkerID = "worker_id"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldBackend is the parse backend selected for a job.
	FieldBackend = "backend"
)

// Standard metric fields, used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldSize is the data size in bytes.
	FieldSize = "size"

	// FieldStatus is the operation status.
	FieldStatus = "status"
)
