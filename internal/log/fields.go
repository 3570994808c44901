package log

// Canonical field names for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldSource      = "source"
	FieldSourceIndex = "source_index"
	FieldChannel     = "channel"
	FieldCategory    = "category"
	FieldURL         = "url"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration"

	FieldSessionID = "session_id"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldFormat    = "format"
	FieldAttempt   = "attempt"
	FieldTask      = "task"
	FieldOutcome   = "outcome"
)
