// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openkaraoke/studio/internal/types"
)

// ListQueue returns the live queue: the playing entry first if any, then
// queued entries in position order. Played entries are excluded.
func (s *Store) ListQueue(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT entry_id, song_id, singer_name, position, status, added_at_ms
	FROM queue_entries
	WHERE status IN ('playing', 'queued')
	ORDER BY CASE status WHEN 'playing' THEN 0 ELSE 1 END, position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanQueueEntries(rows)
}

// ListPlayedBefore returns played entries older than the cutoff, for the
// retention reaper.
func (s *Store) ListPlayedBefore(ctx context.Context, cutoff time.Time) ([]*QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT entry_id, song_id, singer_name, position, status, added_at_ms
	FROM queue_entries
	WHERE status = 'played' AND added_at_ms < ?
	ORDER BY entry_id`, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanQueueEntries(rows)
}

// DeletePlayedBefore removes played entries older than the cutoff and
// returns how many were removed.
func (s *Store) DeletePlayedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE status = 'played' AND added_at_ms < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanQueueEntries(rows *sql.Rows) ([]*QueueEntry, error) {
	entries := []*QueueEntry{}
	for rows.Next() {
		var (
			e       QueueEntry
			addedMs int64
		)
		if err := rows.Scan(&e.EntryID, &e.SongID, &e.SingerName, &e.Position, &e.Status, &addedMs); err != nil {
			return nil, err
		}
		e.AddedAt = time.UnixMilli(addedMs).UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GetQueueEntry fetches one entry by id.
func (s *Store) GetQueueEntry(ctx context.Context, entryID int64) (*QueueEntry, error) {
	var (
		e       QueueEntry
		addedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT entry_id, song_id, singer_name, position, status, added_at_ms
	FROM queue_entries WHERE entry_id = ?`, entryID).
		Scan(&e.EntryID, &e.SongID, &e.SingerName, &e.Position, &e.Status, &addedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: queue entry %d", ErrNotFound, entryID)
	}
	if err != nil {
		return nil, err
	}
	e.AddedAt = time.UnixMilli(addedMs).UTC()
	return &e, nil
}

// InsertQueueEntry appends a queued entry at the tail. The referenced song
// must exist; a song does not have to be completed to be queued.
func (s *Store) InsertQueueEntry(ctx context.Context, songID, singerName string) (*QueueEntry, error) {
	if singerName == "" {
		return nil, fmt.Errorf("%w: singerName is required", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM songs WHERE id = ?`, songID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: song %s", ErrNotFound, songID)
	}

	// Queued positions are contiguous starting at 1.
	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM queue_entries WHERE status = 'queued'`).Scan(&next); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
	INSERT INTO queue_entries (song_id, singer_name, position, status, added_at_ms)
	VALUES (?, ?, ?, 'queued', ?)`,
		songID, singerName, next, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &QueueEntry{
		EntryID:    entryID,
		SongID:     songID,
		SingerName: singerName,
		Position:   int(next),
		Status:     types.QueueStatusQueued,
		AddedAt:    now,
	}, nil
}

// RemoveQueueEntry deletes a queued entry and closes the position gap.
// Playing and played entries cannot be removed.
func (s *Store) RemoveQueueEntry(ctx context.Context, entryID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status   string
		position int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, position FROM queue_entries WHERE entry_id = ?`, entryID).
		Scan(&status, &position)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: queue entry %d", ErrNotFound, entryID)
	}
	if err != nil {
		return err
	}
	if status != string(types.QueueStatusQueued) {
		return fmt.Errorf("%w: entry %d is %s, only queued entries can be removed", ErrInvalid, entryID, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE entry_id = ?`, entryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
	UPDATE queue_entries SET position = position - 1
	WHERE status = 'queued' AND position > ?`, position); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderQueue rewrites queued positions according to entryIDs, which must be
// exactly the current set of queued entry ids in the desired order.
func (s *Store) ReorderQueue(ctx context.Context, entryIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT entry_id FROM queue_entries WHERE status = 'queued'`)
	if err != nil {
		return err
	}
	current := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		current[id] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(entryIDs) != len(current) {
		return fmt.Errorf("%w: reorder must list all %d queued entries, got %d", ErrInvalid, len(current), len(entryIDs))
	}
	seen := map[int64]bool{}
	for _, id := range entryIDs {
		if !current[id] {
			return fmt.Errorf("%w: entry %d is not queued", ErrInvalid, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: entry %d listed twice", ErrInvalid, id)
		}
		seen[id] = true
	}

	for i, id := range entryIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET position = ? WHERE entry_id = ?`, i+1, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AdvanceQueue marks the playing entry played, if any, and promotes the head
// of the queued entries to playing. It returns the new playing entry, or nil
// when the queue drained.
func (s *Store) AdvanceQueue(ctx context.Context) (*QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'played' WHERE status = 'playing'`); err != nil {
		return nil, err
	}

	var (
		e       QueueEntry
		addedMs int64
	)
	err = tx.QueryRowContext(ctx, `
	SELECT entry_id, song_id, singer_name, position, added_at_ms
	FROM queue_entries WHERE status = 'queued'
	ORDER BY position LIMIT 1`).
		Scan(&e.EntryID, &e.SongID, &e.SingerName, &e.Position, &addedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'playing' WHERE entry_id = ?`, e.EntryID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
	UPDATE queue_entries SET position = position - 1 WHERE status = 'queued'`); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.Status = types.QueueStatusPlaying
	e.Position = 0
	e.AddedAt = time.UnixMilli(addedMs).UTC()
	return &e, nil
}

// QueueDepth counts queued entries, for the gauge.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE status = 'queued'`).Scan(&n)
	return n, err
}
