package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldOrderID   = "order_id"
	FieldWorkerID  = "worker_id"
	FieldCameraID  = "camera_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Capture fields
	FieldSegment   = "segment"
	FieldDuration  = "duration_s"
	FieldRemaining = "remaining_s"
	FieldLost      = "lost_s"
	FieldDeadline  = "deadline"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Path / URL fields
	FieldPath     = "path"
	FieldArtifact = "artifact"
	FieldEndpoint = "endpoint"
)
