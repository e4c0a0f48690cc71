// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldSongID    = "song_id"
	FieldTaskRef   = "task_ref"
	FieldEntryID   = "entry_id"
	FieldSessionID = "session_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStep      = "step"
	FieldProgress  = "progress"
	FieldKind      = "kind"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"

	// Push / bus fields
	FieldTopic   = "topic"
	FieldChannel = "channel"

	// Path fields
	FieldPath = "path"
)
