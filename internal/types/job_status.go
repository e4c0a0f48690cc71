// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations shared across the service.
//
// This package centralizes typed constants and state enums to prevent
// string-based bugs and enable exhaustive switch statements.
package types

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the current state of a processing job.
type JobStatus string

// Job status constants define all states of the job state machine.
const (
	// JobStatusPending indicates the job is persisted but not yet reserved.
	JobStatusPending JobStatus = "pending"

	// JobStatusReserved indicates a worker has atomically claimed the job.
	JobStatusReserved JobStatus = "reserved"

	// JobStatusDownloading indicates the fetch step is running.
	JobStatusDownloading JobStatus = "downloading"

	// JobStatusProcessing indicates separation or enrichment is running.
	JobStatusProcessing JobStatus = "processing"

	// JobStatusCancelling indicates cancellation was requested and the
	// worker has not yet observed it.
	JobStatusCancelling JobStatus = "cancelling"

	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the job terminated with an error.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the job was cancelled cooperatively.
	JobStatusCancelled JobStatus = "cancelled"
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks whether the job status is one of the defined constants.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusReserved, JobStatusDownloading,
		JobStatusProcessing, JobStatusCancelling,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the job status represents a final state.
// A job in a terminal state will not transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status may move to target.
//
// Valid forward edges:
//   - pending → reserved, cancelling, cancelled
//   - reserved → downloading, processing, cancelling, failed, cancelled, pending (stale reopen)
//   - downloading → processing, cancelling, failed, cancelled
//   - processing → completed, failed, cancelling, cancelled
//   - cancelling → cancelled, completed, failed
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return target == JobStatusReserved || target == JobStatusCancelling || target == JobStatusCancelled
	case JobStatusReserved:
		switch target {
		case JobStatusDownloading, JobStatusProcessing, JobStatusCancelling,
			JobStatusFailed, JobStatusCancelled, JobStatusPending:
			return true
		}
		return false
	case JobStatusDownloading:
		switch target {
		case JobStatusProcessing, JobStatusCancelling, JobStatusFailed, JobStatusCancelled:
			return true
		}
		return false
	case JobStatusProcessing:
		switch target {
		case JobStatusCompleted, JobStatusFailed, JobStatusCancelling, JobStatusCancelled:
			return true
		}
		return false
	case JobStatusCancelling:
		switch target {
		case JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
			return true
		}
		return false
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := JobStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %q", str)
	}
	*s = status
	return nil
}

// ParseJobStatus parses a string into a JobStatus, returning an error if invalid.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q", s)
	}
	return status, nil
}

// AllJobStatuses returns all defined job statuses.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusReserved,
		JobStatusDownloading,
		JobStatusProcessing,
		JobStatusCancelling,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}
