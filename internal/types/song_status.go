// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// SongStatus is the client-visible lifecycle of a library song.
type SongStatus string

const (
	SongStatusPending     SongStatus = "pending"
	SongStatusDownloading SongStatus = "downloading"
	SongStatusProcessing  SongStatus = "processing"
	SongStatusCompleted   SongStatus = "completed"
	SongStatusFailed      SongStatus = "failed"
)

// String implements fmt.Stringer.
func (s SongStatus) String() string { return string(s) }

// IsValid checks whether the song status is a defined constant.
func (s SongStatus) IsValid() bool {
	switch s {
	case SongStatusPending, SongStatusDownloading, SongStatusProcessing,
		SongStatusCompleted, SongStatusFailed:
		return true
	default:
		return false
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SongStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := SongStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid song status: %q", str)
	}
	*s = status
	return nil
}

// SongSource identifies where a song's audio came from.
type SongSource string

const (
	SourceUpload  SongSource = "upload"
	SourceYouTube SongSource = "youtube"
)

// IsValid checks whether the source is a defined constant.
func (s SongSource) IsValid() bool {
	return s == SourceUpload || s == SourceYouTube
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SongSource) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	src := SongSource(str)
	if !src.IsValid() {
		return fmt.Errorf("invalid song source: %q", str)
	}
	*s = src
	return nil
}
