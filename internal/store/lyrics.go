// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetLyrics returns the lyrics record of a song, or ErrNotFound when the
// song has none yet.
func (s *Store) GetLyrics(ctx context.Context, songID string) (*Lyrics, error) {
	var l Lyrics
	err := s.db.QueryRowContext(ctx, `
	SELECT song_id, plain_text, synced_text, language_code, source, duration_hint_ms
	FROM lyrics WHERE song_id = ?`, songID).
		Scan(&l.SongID, &l.PlainText, &l.SyncedText, &l.LanguageCode, &l.Source, &l.DurationHintMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: lyrics for song %s", ErrNotFound, songID)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// SetLyrics writes or replaces the lyrics record of a song. The song must
// exist; the foreign key enforces it.
func (s *Store) SetLyrics(ctx context.Context, l *Lyrics) error {
	if l.SongID == "" {
		return fmt.Errorf("%w: songId is required", ErrInvalid)
	}
	if l.PlainText == "" && l.SyncedText == "" {
		return fmt.Errorf("%w: lyrics need plain or synced text", ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO lyrics (song_id, plain_text, synced_text, language_code, source, duration_hint_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(song_id) DO UPDATE SET
		plain_text = excluded.plain_text,
		synced_text = excluded.synced_text,
		language_code = excluded.language_code,
		source = excluded.source,
		duration_hint_ms = excluded.duration_hint_ms`,
		l.SongID, l.PlainText, l.SyncedText, l.LanguageCode, l.Source, l.DurationHintMs)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: song %s", ErrNotFound, l.SongID)
		}
		return fmt.Errorf("set lyrics: %w", err)
	}
	return nil
}

// DeleteLyrics removes the lyrics record, if present.
func (s *Store) DeleteLyrics(ctx context.Context, songID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lyrics WHERE song_id = ?`, songID)
	return err
}
