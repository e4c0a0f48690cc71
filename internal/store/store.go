// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openkaraoke/studio/internal/persistence/sqlite"
)

const schemaVersion = 1

// Store is the SQLite-backed system of record.
type Store struct {
	db *sql.DB
}

// Open initializes the store at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// DB exposes the underlying pool for sibling stores sharing the database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies store availability, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS songs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		artist_norm TEXT NOT NULL,
		album TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL CHECK(source IN ('upload', 'youtube')),
		source_url TEXT NOT NULL DEFAULT '',
		video_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		paths_json TEXT NOT NULL DEFAULT '{}',
		itunes_track_id INTEGER NOT NULL DEFAULT 0,
		itunes_artist_id INTEGER NOT NULL DEFAULT 0,
		itunes_collection_id INTEGER NOT NULL DEFAULT 0,
		thumbnails_json TEXT NOT NULL DEFAULT '[]',
		date_added_ms INTEGER NOT NULL,
		favorite INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_songs_artist_norm ON songs(artist_norm);
	CREATE INDEX IF NOT EXISTS idx_songs_date_added ON songs(date_added_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_songs_status ON songs(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_songs_video_id
		ON songs(video_id) WHERE source = 'youtube' AND video_id != '';

	CREATE TABLE IF NOT EXISTS lyrics (
		song_id TEXT PRIMARY KEY REFERENCES songs(id) ON DELETE CASCADE,
		plain_text TEXT NOT NULL DEFAULT '',
		synced_text TEXT NOT NULL DEFAULT '',
		language_code TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		duration_hint_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS queue_entries (
		entry_id INTEGER PRIMARY KEY AUTOINCREMENT,
		song_id TEXT NOT NULL REFERENCES songs(id),
		singer_name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'queued' CHECK(status IN ('queued', 'playing', 'played')),
		added_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status_position ON queue_entries(status, position);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		song_id TEXT NOT NULL REFERENCES songs(id),
		kind TEXT NOT NULL CHECK(kind IN ('upload', 'youtube')),
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		status_message TEXT NOT NULL DEFAULT '',
		task_ref TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		error_detail_json TEXT NOT NULL DEFAULT '{}',
		notes_json TEXT NOT NULL DEFAULT '{}',
		dismissed INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL,
		started_at_ms INTEGER,
		ended_at_ms INTEGER,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_song ON jobs(song_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at_ms);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
