// SPDX-License-Identifier: MIT

// Package jobstore persists pipeline jobs. It shares the library database
// and adds the reservation semantics workers rely on: claiming a runnable
// job is a single atomic statement, and updates carry the claimer's task
// reference so a superseded worker cannot clobber newer state.
package jobstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/types"
)

var (
	// ErrNotFound is returned when the job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrNoRunnable is returned by ReserveNext when no pending job exists.
	ErrNoRunnable = errors.New("no runnable job")

	// ErrStaleRef is returned when an update carries a task reference that
	// no longer owns the job.
	ErrStaleRef = errors.New("stale task reference")

	// ErrBadTransition is returned for status changes the job state machine
	// forbids.
	ErrBadTransition = errors.New("invalid status transition")

	// ErrPersistence is returned when a write could not be read back, the
	// signal callers use to fail the owning job with kind PERSISTENCE.
	ErrPersistence = errors.New("persistence verification failed")
)

// Notes is the kind-specific job payload. At most one variant is set, and it
// must match the job's kind.
type Notes struct {
	YouTube *YouTubeNotes `json:"youtube,omitempty"`
	Upload  *UploadNotes  `json:"upload,omitempty"`
}

// YouTubeNotes travels with youtube jobs so the worker does not depend on
// the song row staying unchanged.
type YouTubeNotes struct {
	VideoID string `json:"videoId"`
}

// UploadNotes records where the ingested audio lives inside the library.
type UploadNotes struct {
	SourcePath string `json:"sourcePath"`
}

func (n Notes) validateFor(kind types.JobKind) error {
	if n.YouTube != nil && kind != types.JobKindYouTube {
		return fmt.Errorf("%w: youtube notes on a %s job", store.ErrInvalid, kind)
	}
	if n.Upload != nil && kind != types.JobKindUpload {
		return fmt.Errorf("%w: upload notes on a %s job", store.ErrInvalid, kind)
	}
	return nil
}

// Job is one unit of pipeline work over a single song.
type Job struct {
	ID            string            `json:"id"`
	SongID        string            `json:"songId"`
	Kind          types.JobKind     `json:"kind"`
	Status        types.JobStatus   `json:"status"`
	Progress      int               `json:"progress"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	TaskRef       string            `json:"-"`
	ErrorKind     types.ErrorKind   `json:"errorKind,omitempty"`
	ErrorDetail   map[string]string `json:"errorDetail,omitempty"`
	Notes         Notes             `json:"notes,omitzero"`
	Dismissed     bool              `json:"dismissed"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	EndedAt       *time.Time        `json:"endedAt,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Update is a partial job mutation applied under the task reference guard.
// Nil fields are left untouched.
type Update struct {
	Status        *types.JobStatus
	Progress      *int
	StatusMessage *string
}

// StatusSummary is the aggregate view behind the jobs status endpoint.
type StatusSummary struct {
	Pending     int `json:"pending"`
	Reserved    int `json:"reserved"`
	Downloading int `json:"downloading"`
	Processing  int `json:"processing"`
	Cancelling  int `json:"cancelling"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
}

// Active is the number of jobs a worker currently owns or will own.
func (s StatusSummary) Active() int {
	return s.Pending + s.Reserved + s.Downloading + s.Processing + s.Cancelling
}
