// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// QueueStatus is the lifecycle of a karaoke queue entry.
type QueueStatus string

const (
	QueueStatusQueued  QueueStatus = "queued"
	QueueStatusPlaying QueueStatus = "playing"
	QueueStatusPlayed  QueueStatus = "played"
)

// String implements fmt.Stringer.
func (s QueueStatus) String() string { return string(s) }

// IsValid checks whether the queue status is a defined constant.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusQueued, QueueStatusPlaying, QueueStatusPlayed:
		return true
	default:
		return false
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *QueueStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := QueueStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid queue status: %q", str)
	}
	*s = status
	return nil
}

// LyricsSize is the display size of rendered lyrics.
type LyricsSize string

const (
	LyricsSizeSmall  LyricsSize = "small"
	LyricsSizeMedium LyricsSize = "medium"
	LyricsSizeLarge  LyricsSize = "large"
)

// IsValid checks whether the size is a defined constant.
func (s LyricsSize) IsValid() bool {
	switch s {
	case LyricsSizeSmall, LyricsSizeMedium, LyricsSizeLarge:
		return true
	default:
		return false
	}
}
