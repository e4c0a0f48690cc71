// SPDX-License-Identifier: MIT

// Package store provides SQLite persistence for songs, artists, lyrics and
// the karaoke queue. It is the single system of record; all mutation goes
// through its API and is atomic at row level.
package store

import (
	"errors"
	"time"

	"github.com/openkaraoke/studio/internal/types"
)

var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness rule is violated, e.g. a
	// second youtube song with the same video id.
	ErrConflict = errors.New("conflict")

	// ErrInUse is returned when a song cannot be deleted because a
	// non-terminal job still references it.
	ErrInUse = errors.New("in use")

	// ErrInvalid is returned for inputs that violate a business rule.
	ErrInvalid = errors.New("invalid")
)

// Path keys inside Song.Paths. A key is present only once the file it names
// is fully written; the mapping is the readiness source of truth.
const (
	PathOriginal     = "original"
	PathVocals       = "vocals"
	PathInstrumental = "instrumental"
	PathCover        = "cover"
	PathThumbnail    = "thumbnail"
)

// Thumbnail is one candidate artwork image offered by the source site.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ITunesIDs groups the identifiers written back by metadata enrichment.
type ITunesIDs struct {
	TrackID      int64 `json:"trackId,omitempty"`
	ArtistID     int64 `json:"artistId,omitempty"`
	CollectionID int64 `json:"collectionId,omitempty"`
}

// Song is a library entry. Paths values are file keys relative to the song's
// directory (e.g. "vocals.mp3"); any may be absent while processing runs.
type Song struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Artist     string            `json:"artist"`
	Album      string            `json:"album,omitempty"`
	Genre      string            `json:"genre,omitempty"`
	Language   string            `json:"language,omitempty"`
	Year       int               `json:"year,omitempty"`
	DurationMs int64             `json:"durationMs,omitempty"`
	Source     types.SongSource  `json:"source"`
	SourceURL  string            `json:"sourceUrl,omitempty"`
	VideoID    string            `json:"videoId,omitempty"`
	Status     types.SongStatus  `json:"status"`
	Paths      map[string]string `json:"paths"`
	ITunes     ITunesIDs         `json:"itunesIds"`
	Thumbnails []Thumbnail       `json:"youtubeThumbnailUrls,omitempty"`
	DateAdded  time.Time         `json:"dateAdded"`
	Favorite   bool              `json:"favorite"`
}

// SongPatch is a partial update; nil fields are left untouched.
type SongPatch struct {
	Title      *string
	Artist     *string
	Album      *string
	Genre      *string
	Language   *string
	Year       *int
	DurationMs *int64
	Status     *types.SongStatus
	Paths      map[string]string // merged key-wise; empty value deletes the key
	ITunes     *ITunesIDs
	Thumbnails []Thumbnail
	Favorite   *bool
}

// Artist is a derived view over songs, keyed by the normalized name.
type Artist struct {
	Name        string `json:"name"`
	FirstLetter string `json:"firstLetter"`
	SongCount   int    `json:"songCount"`
}

// QueueEntry is one row of the karaoke queue.
type QueueEntry struct {
	EntryID    int64             `json:"entryId"`
	SongID     string            `json:"songId"`
	SingerName string            `json:"singerName"`
	Position   int               `json:"position"`
	Status     types.QueueStatus `json:"status"`
	AddedAt    time.Time         `json:"addedAt"`
}

// Lyrics is the one-to-one lyrics record of a song.
type Lyrics struct {
	SongID         string `json:"songId"`
	PlainText      string `json:"plainText"`
	SyncedText     string `json:"syncedText,omitempty"`
	LanguageCode   string `json:"languageCode,omitempty"`
	Source         string `json:"source,omitempty"`
	DurationHintMs int64  `json:"durationHintMs,omitempty"`
}

// Page is one window of a paged listing.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}
