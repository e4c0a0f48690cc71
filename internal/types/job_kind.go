// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// JobKind selects which pipeline a job runs through.
type JobKind string

const (
	// JobKindUpload processes a file already present on disk.
	JobKindUpload JobKind = "upload"

	// JobKindYouTube fetches the source audio before processing.
	JobKindYouTube JobKind = "youtube"
)

// String implements fmt.Stringer.
func (k JobKind) String() string { return string(k) }

// IsValid checks whether the kind is a defined constant.
func (k JobKind) IsValid() bool {
	return k == JobKindUpload || k == JobKindYouTube
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *JobKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	kind := JobKind(str)
	if !kind.IsValid() {
		return fmt.Errorf("invalid job kind: %q", str)
	}
	*k = kind
	return nil
}

// ErrorKind is a compact, typed failure signal attached to failed jobs.
// Keep these stable: metrics and the client UX depend on them.
type ErrorKind string

const (
	ErrKindNone           ErrorKind = ""
	ErrKindFetchNetwork   ErrorKind = "FETCH_NETWORK"
	ErrKindFetchGone      ErrorKind = "FETCH_UNAVAILABLE"
	ErrKindFetchFormat    ErrorKind = "FETCH_FORMAT"
	ErrKindSepUnavailable ErrorKind = "SEPARATOR_UNAVAILABLE"
	ErrKindSepFailed      ErrorKind = "SEPARATOR_FAILED"
	ErrKindTimeout        ErrorKind = "TIMEOUT"
	ErrKindCancelled      ErrorKind = "CANCELLED"
	ErrKindPersistence    ErrorKind = "PERSISTENCE"
	ErrKindInternal       ErrorKind = "INTERNAL"
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string { return string(k) }
