// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openkaraoke/studio/internal/types"
)

const songColumns = `id, title, artist, album, genre, language, year, duration_ms,
	source, source_url, video_id, status, paths_json,
	itunes_track_id, itunes_artist_id, itunes_collection_id,
	thumbnails_json, date_added_ms, favorite`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(r rowScanner) (*Song, error) {
	var (
		s              Song
		pathsJSON      string
		thumbnailsJSON string
		dateAddedMs    int64
		favorite       int
	)
	err := r.Scan(&s.ID, &s.Title, &s.Artist, &s.Album, &s.Genre, &s.Language,
		&s.Year, &s.DurationMs, &s.Source, &s.SourceURL, &s.VideoID, &s.Status,
		&pathsJSON, &s.ITunes.TrackID, &s.ITunes.ArtistID, &s.ITunes.CollectionID,
		&thumbnailsJSON, &dateAddedMs, &favorite)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pathsJSON), &s.Paths); err != nil {
		return nil, fmt.Errorf("decode paths for song %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(thumbnailsJSON), &s.Thumbnails); err != nil {
		return nil, fmt.Errorf("decode thumbnails for song %s: %w", s.ID, err)
	}
	if s.Paths == nil {
		s.Paths = map[string]string{}
	}
	s.DateAdded = time.UnixMilli(dateAddedMs).UTC()
	s.Favorite = favorite != 0
	return &s, nil
}

// CreateSong inserts a song and returns its id. A youtube song whose video id
// already exists returns ErrConflict.
func (s *Store) CreateSong(ctx context.Context, song *Song) (string, error) {
	if song.Title == "" || song.Artist == "" {
		return "", fmt.Errorf("%w: title and artist are required", ErrInvalid)
	}
	if !song.Source.IsValid() {
		return "", fmt.Errorf("%w: unknown source %q", ErrInvalid, song.Source)
	}
	if (song.Source == types.SourceYouTube) != (song.VideoID != "") {
		return "", fmt.Errorf("%w: videoId is required iff source is youtube", ErrInvalid)
	}

	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	if song.Status == "" {
		song.Status = types.SongStatusPending
	}
	if song.Paths == nil {
		song.Paths = map[string]string{}
	}
	if song.DateAdded.IsZero() {
		song.DateAdded = time.Now().UTC()
	}

	pathsJSON, _ := json.Marshal(song.Paths)
	thumbnailsJSON, _ := json.Marshal(song.Thumbnails)
	if song.Thumbnails == nil {
		thumbnailsJSON = []byte("[]")
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO songs (`+songColumns+`, artist_norm)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.Title, song.Artist, song.Album, song.Genre, song.Language,
		song.Year, song.DurationMs, string(song.Source), song.SourceURL, song.VideoID,
		string(song.Status), string(pathsJSON),
		song.ITunes.TrackID, song.ITunes.ArtistID, song.ITunes.CollectionID,
		string(thumbnailsJSON), song.DateAdded.UnixMilli(), boolToInt(song.Favorite),
		NormalizeArtist(song.Artist),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: youtube video %s already in library", ErrConflict, song.VideoID)
		}
		return "", fmt.Errorf("insert song: %w", err)
	}
	return song.ID, nil
}

// GetSong fetches one song by id.
func (s *Store) GetSong(ctx context.Context, id string) (*Song, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	song, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: song %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return song, nil
}

// FindSongByVideoID returns the youtube song with the given video id, if any.
func (s *Store) FindSongByVideoID(ctx context.Context, videoID string) (*Song, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+songColumns+` FROM songs WHERE source = 'youtube' AND video_id = ?`, videoID)
	song, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: video %s", ErrNotFound, videoID)
	}
	if err != nil {
		return nil, err
	}
	return song, nil
}

// UpdateSong applies a partial update and returns the resulting row.
// Paths entries with empty values remove the key; other entries merge in.
func (s *Store) UpdateSong(ctx context.Context, id string, patch SongPatch) (*Song, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	song, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: song %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	applyPatch(song, patch)

	if song.Status == types.SongStatusCompleted {
		if song.Paths[PathVocals] == "" || song.Paths[PathInstrumental] == "" {
			return nil, fmt.Errorf("%w: completed song requires vocals and instrumental paths", ErrInvalid)
		}
	}

	pathsJSON, _ := json.Marshal(song.Paths)
	thumbnailsJSON, _ := json.Marshal(song.Thumbnails)
	if song.Thumbnails == nil {
		thumbnailsJSON = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE songs SET title = ?, artist = ?, artist_norm = ?, album = ?, genre = ?,
		language = ?, year = ?, duration_ms = ?, status = ?, paths_json = ?,
		itunes_track_id = ?, itunes_artist_id = ?, itunes_collection_id = ?,
		thumbnails_json = ?, favorite = ?
	WHERE id = ?`,
		song.Title, song.Artist, NormalizeArtist(song.Artist), song.Album, song.Genre,
		song.Language, song.Year, song.DurationMs, string(song.Status), string(pathsJSON),
		song.ITunes.TrackID, song.ITunes.ArtistID, song.ITunes.CollectionID,
		string(thumbnailsJSON), boolToInt(song.Favorite), id)
	if err != nil {
		return nil, fmt.Errorf("update song: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return song, nil
}

func applyPatch(song *Song, patch SongPatch) {
	if patch.Title != nil {
		song.Title = *patch.Title
	}
	if patch.Artist != nil {
		song.Artist = *patch.Artist
	}
	if patch.Album != nil {
		song.Album = *patch.Album
	}
	if patch.Genre != nil {
		song.Genre = *patch.Genre
	}
	if patch.Language != nil {
		song.Language = *patch.Language
	}
	if patch.Year != nil {
		song.Year = *patch.Year
	}
	if patch.DurationMs != nil {
		song.DurationMs = *patch.DurationMs
	}
	if patch.Status != nil {
		song.Status = *patch.Status
	}
	for k, v := range patch.Paths {
		if v == "" {
			delete(song.Paths, k)
		} else {
			song.Paths[k] = v
		}
	}
	if patch.ITunes != nil {
		song.ITunes = *patch.ITunes
	}
	if patch.Thumbnails != nil {
		song.Thumbnails = patch.Thumbnails
	}
	if patch.Favorite != nil {
		song.Favorite = *patch.Favorite
	}
}

// DeleteSong removes a song. It fails with ErrInUse while a non-terminal job
// references the song.
func (s *Store) DeleteSong(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var open int
	err = tx.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM jobs
	WHERE song_id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`, id).Scan(&open)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("%w: %d active jobs reference song %s", ErrInUse, open, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE song_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE song_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM songs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: song %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// ListOptions controls plain listings.
type ListOptions struct {
	Offset    int
	Limit     int
	SortBy    string // title | artist | album | year | duration | date_added
	Direction string // asc | desc
}

var songSortColumns = map[string]string{
	"":           "date_added_ms",
	"date_added": "date_added_ms",
	"dateAdded":  "date_added_ms",
	"title":      "title COLLATE NOCASE",
	"artist":     "artist_norm",
	"album":      "album COLLATE NOCASE",
	"year":       "year",
	"duration":   "duration_ms",
}

func (o ListOptions) orderClause() (string, error) {
	col, ok := songSortColumns[o.SortBy]
	if !ok {
		return "", fmt.Errorf("%w: unknown sort field %q", ErrInvalid, o.SortBy)
	}
	dir := "DESC"
	switch strings.ToLower(o.Direction) {
	case "", "desc":
	case "asc":
		dir = "ASC"
	default:
		return "", fmt.Errorf("%w: unknown sort direction %q", ErrInvalid, o.Direction)
	}
	// Stable tiebreak keeps paging deterministic.
	return fmt.Sprintf("ORDER BY %s %s, id", col, dir), nil
}

func (o ListOptions) window() (offset, limit int) {
	offset = o.Offset
	if offset < 0 {
		offset = 0
	}
	limit = o.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return offset, limit
}

// ListSongs returns one page of the library.
func (s *Store) ListSongs(ctx context.Context, opts ListOptions) (*Page[*Song], error) {
	order, err := opts.orderClause()
	if err != nil {
		return nil, err
	}
	offset, limit := opts.window()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM songs`).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+songColumns+` FROM songs `+order+` LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	page := &Page[*Song]{Items: []*Song{}, Total: total, Offset: offset, Limit: limit}
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, song)
	}
	return page, rows.Err()
}

// ListSongsByArtist returns one page of an artist's songs, matching on the
// normalized name.
func (s *Store) ListSongsByArtist(ctx context.Context, name string, opts ListOptions) (*Page[*Song], error) {
	order, err := opts.orderClause()
	if err != nil {
		return nil, err
	}
	offset, limit := opts.window()
	norm := NormalizeArtist(name)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM songs WHERE artist_norm = ?`, norm).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+songColumns+` FROM songs WHERE artist_norm = ? `+order+` LIMIT ? OFFSET ?`,
		norm, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	page := &Page[*Song]{Items: []*Song{}, Total: total, Offset: offset, Limit: limit}
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, song)
	}
	return page, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
