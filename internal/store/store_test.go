// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkaraoke/studio/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addSong(t *testing.T, s *Store, title, artist string, mutate ...func(*Song)) *Song {
	t.Helper()
	song := &Song{
		Title:  title,
		Artist: artist,
		Source: types.SourceUpload,
	}
	for _, m := range mutate {
		m(song)
	}
	id, err := s.CreateSong(context.Background(), song)
	require.NoError(t, err)
	song.ID = id
	return song
}

func TestCreateAndGetSong(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := addSong(t, s, "Dancing Queen", "ABBA", func(song *Song) {
		song.Source = types.SourceYouTube
		song.VideoID = "xFrGuyw1V8s"
		song.SourceURL = "https://www.youtube.com/watch?v=xFrGuyw1V8s"
	})

	got, err := s.GetSong(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dancing Queen", got.Title)
	assert.Equal(t, types.SongStatusPending, got.Status)
	assert.Equal(t, "xFrGuyw1V8s", got.VideoID)
	assert.NotNil(t, got.Paths)
	assert.False(t, got.DateAdded.IsZero())

	byVideo, err := s.FindSongByVideoID(ctx, "xFrGuyw1V8s")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byVideo.ID)
}

func TestCreateSongValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSong(ctx, &Song{Artist: "ABBA", Source: types.SourceUpload})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateSong(ctx, &Song{Title: "x", Artist: "y", Source: "cassette"})
	assert.ErrorIs(t, err, ErrInvalid)

	// Upload songs must not carry a video id, youtube songs must.
	_, err = s.CreateSong(ctx, &Song{Title: "x", Artist: "y", Source: types.SourceUpload, VideoID: "abc"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.CreateSong(ctx, &Song{Title: "x", Artist: "y", Source: types.SourceYouTube})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateSongDuplicateVideoID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addSong(t, s, "Take On Me", "a-ha", func(song *Song) {
		song.Source = types.SourceYouTube
		song.VideoID = "djV11Xbc914"
	})

	_, err := s.CreateSong(ctx, &Song{
		Title: "Take On Me (again)", Artist: "a-ha",
		Source: types.SourceYouTube, VideoID: "djV11Xbc914",
	})
	assert.ErrorIs(t, err, ErrConflict)

	// Two uploads never conflict; they have no video id.
	addSong(t, s, "Take On Me", "a-ha")
	addSong(t, s, "Take On Me", "a-ha")
}

func TestUpdateSongPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	song := addSong(t, s, "Yesterday", "The Beatles")

	year := 1965
	updated, err := s.UpdateSong(ctx, song.ID, SongPatch{
		Year:  &year,
		Paths: map[string]string{PathOriginal: "original.mp3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1965, updated.Year)
	assert.Equal(t, "original.mp3", updated.Paths[PathOriginal])
	assert.Equal(t, "Yesterday", updated.Title)

	// An empty path value deletes the key.
	updated, err = s.UpdateSong(ctx, song.ID, SongPatch{
		Paths: map[string]string{PathOriginal: ""},
	})
	require.NoError(t, err)
	assert.NotContains(t, updated.Paths, PathOriginal)

	_, err = s.UpdateSong(ctx, "missing", SongPatch{Year: &year})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSongCompletedRequiresStems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	song := addSong(t, s, "Hello", "Adele")

	completed := types.SongStatusCompleted
	_, err := s.UpdateSong(ctx, song.ID, SongPatch{Status: &completed})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.UpdateSong(ctx, song.ID, SongPatch{
		Status: &completed,
		Paths: map[string]string{
			PathVocals:       "vocals.mp3",
			PathInstrumental: "instrumental.mp3",
		},
	})
	assert.NoError(t, err)
}

func TestDeleteSongBlockedByActiveJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	song := addSong(t, s, "Wonderwall", "Oasis")

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO jobs (id, song_id, kind, status, created_at_ms, updated_at_ms)
	VALUES ('job-1', ?, 'upload', 'processing', ?, ?)`, song.ID, now, now)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteSong(ctx, song.ID), ErrInUse)

	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed' WHERE id = 'job-1'`)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSong(ctx, song.ID))
	_, err = s.GetSong(ctx, song.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteSong(ctx, song.ID), ErrNotFound)
}

func TestListSongsSortAndPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, title := range []string{"Alpha", "Charlie", "Bravo"} {
		addSong(t, s, title, "Various", func(song *Song) {
			song.DateAdded = base.Add(time.Duration(i) * time.Minute)
		})
	}

	page, err := s.ListSongs(ctx, ListOptions{SortBy: "title", Direction: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "Alpha", page.Items[0].Title)
	assert.Equal(t, "Bravo", page.Items[1].Title)

	// Default sort is newest first.
	page, err = s.ListSongs(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Bravo", page.Items[0].Title)

	page, err = s.ListSongs(ctx, ListOptions{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Alpha", page.Items[0].Title)

	_, err = s.ListSongs(ctx, ListOptions{SortBy: "nope"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSearchSongs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addSong(t, s, "Bohemian Rhapsody", "Queen")
	addSong(t, s, "Dancing Queen", "ABBA")
	addSong(t, s, "Under Pressure", "Queen", func(song *Song) { song.Album = "Hot Space" })

	// Title hits outrank artist hits.
	page, err := s.SearchSongs(ctx, "queen", ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "Dancing Queen", page.Items[0].Title)

	// Fuzzy: two edits away still matches for tokens >= 4 runes.
	page, err = s.SearchSongs(ctx, "bohemina", ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Bohemian Rhapsody", page.Items[0].Title)

	// Every token must match somewhere.
	page, err = s.SearchSongs(ctx, "queen banana", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	// Short tokens never fuzz.
	page, err = s.SearchSongs(ctx, "abz", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = s.SearchSongs(ctx, "   ", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListArtists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addSong(t, s, "California Love", "2Pac")
	addSong(t, s, "Dancing Queen", "ABBA")
	addSong(t, s, "Mamma Mia", "ABBA")
	addSong(t, s, "Yesterday", "The Beatles")
	addSong(t, s, "Help!", "The Beatles")
	addSong(t, s, "Zombie", "The Cranberries")

	page, err := s.ListArtists(ctx, "", 0, 100)
	require.NoError(t, err)
	require.Len(t, page.Items, 4)

	// "#" first, then A-Z ignoring the "The " prefix.
	assert.Equal(t, "2Pac", page.Items[0].Name)
	assert.Equal(t, "#", page.Items[0].FirstLetter)
	assert.Equal(t, "ABBA", page.Items[1].Name)
	assert.Equal(t, 2, page.Items[1].SongCount)
	assert.Equal(t, "The Beatles", page.Items[2].Name)
	assert.Equal(t, "B", page.Items[2].FirstLetter)
	assert.Equal(t, "The Cranberries", page.Items[3].Name)

	// Paging is applied after the full sort.
	page, err = s.ListArtists(ctx, "", 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, "ABBA", page.Items[0].Name)
	assert.Equal(t, "The Beatles", page.Items[1].Name)

	// Search narrows accent-insensitively.
	page, err = s.ListArtists(ctx, "beat", 0, 100)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "The Beatles", page.Items[0].Name)
}

func TestListSongsByArtistNormalizedMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addSong(t, s, "Corazon Partio", "Alejandro Sanz")
	addSong(t, s, "Amiga Mia", "Alejandro Sánz")

	page, err := s.ListSongsByArtist(ctx, "alejandro sanz", ListOptions{SortBy: "title", Direction: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := addSong(t, s, "Song A", "Artist")
	b := addSong(t, s, "Song B", "Artist")
	c := addSong(t, s, "Song C", "Artist")

	e1, err := s.InsertQueueEntry(ctx, a.ID, "Alice")
	require.NoError(t, err)
	e2, err := s.InsertQueueEntry(ctx, b.ID, "Bob")
	require.NoError(t, err)
	e3, err := s.InsertQueueEntry(ctx, c.ID, "Cara")
	require.NoError(t, err)

	assert.Equal(t, 1, e1.Position)
	assert.Equal(t, 2, e2.Position)
	assert.Equal(t, 3, e3.Position)

	_, err = s.InsertQueueEntry(ctx, "missing", "Dan")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.InsertQueueEntry(ctx, a.ID, "")
	assert.ErrorIs(t, err, ErrInvalid)

	// Reorder requires the exact queued set.
	assert.ErrorIs(t, s.ReorderQueue(ctx, []int64{e1.EntryID}), ErrInvalid)
	assert.ErrorIs(t, s.ReorderQueue(ctx, []int64{e1.EntryID, e1.EntryID, e2.EntryID}), ErrInvalid)
	require.NoError(t, s.ReorderQueue(ctx, []int64{e3.EntryID, e1.EntryID, e2.EntryID}))

	entries, err := s.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, e3.EntryID, entries[0].EntryID)

	// Advance promotes the head and closes the gap behind it.
	playing, err := s.AdvanceQueue(ctx)
	require.NoError(t, err)
	require.NotNil(t, playing)
	assert.Equal(t, e3.EntryID, playing.EntryID)
	assert.Equal(t, types.QueueStatusPlaying, playing.Status)

	entries, err = s.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, types.QueueStatusPlaying, entries[0].Status)
	assert.Equal(t, 1, entries[1].Position)
	assert.Equal(t, 2, entries[2].Position)

	// The playing entry cannot be removed.
	assert.ErrorIs(t, s.RemoveQueueEntry(ctx, e3.EntryID), ErrInvalid)

	// Removing a queued entry closes the gap.
	require.NoError(t, s.RemoveQueueEntry(ctx, e1.EntryID))
	entries, err = s.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, e2.EntryID, entries[1].EntryID)
	assert.Equal(t, 1, entries[1].Position)

	// Drain the queue.
	playing, err = s.AdvanceQueue(ctx)
	require.NoError(t, err)
	require.NotNil(t, playing)
	assert.Equal(t, e2.EntryID, playing.EntryID)

	playing, err = s.AdvanceQueue(ctx)
	require.NoError(t, err)
	assert.Nil(t, playing)

	entries, err = s.ListQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestLyricsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	song := addSong(t, s, "Imagine", "John Lennon")

	_, err := s.GetLyrics(ctx, song.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetLyrics(ctx, &Lyrics{
		SongID:    song.ID,
		PlainText: "Imagine there's no heaven",
		Source:    "lrclib",
	}))

	require.NoError(t, s.SetLyrics(ctx, &Lyrics{
		SongID:     song.ID,
		PlainText:  "Imagine there's no heaven",
		SyncedText: "[00:12.00]Imagine there's no heaven",
		Source:     "lrclib",
	}))

	got, err := s.GetLyrics(ctx, song.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.SyncedText)

	assert.ErrorIs(t, s.SetLyrics(ctx, &Lyrics{SongID: song.ID}), ErrInvalid)
	assert.ErrorIs(t, s.SetLyrics(ctx, &Lyrics{SongID: "missing", PlainText: "x"}), ErrNotFound)

	// Deleting the song cascades to its lyrics.
	require.NoError(t, s.DeleteSong(ctx, song.ID))
	_, err = s.GetLyrics(ctx, song.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeArtist(t *testing.T) {
	assert.Equal(t, "alejandro sanz", NormalizeArtist("  Alejandro  Sánz "))
	assert.Equal(t, "beatles", artistSortKey("The Beatles"))
	assert.Equal(t, "#", artistFirstLetter("2Pac"))
	assert.Equal(t, "Q", artistFirstLetter("Queen"))
}
