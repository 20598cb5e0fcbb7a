package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldTenantID      = "tenant_id"
	FieldProfileID     = "profile_id"
	FieldSessionKey    = "session_key"
	FieldClientID      = "client_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"

	// Command / plugin fields
	FieldCommand  = "command"
	FieldPlugin   = "plugin"
	FieldAttempt  = "attempt"
	FieldPriority = "priority"
	FieldReason   = "reason"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Stream fields
	FieldStreamKind = "stream_kind"
	FieldFPS        = "fps"
	FieldQuality    = "quality"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
