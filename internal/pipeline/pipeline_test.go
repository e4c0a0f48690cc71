// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/media"
	"github.com/openkaraoke/studio/internal/providers/itunes"
	"github.com/openkaraoke/studio/internal/providers/lyrics"
	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/types"
)

type fakeMetadata struct {
	tracks []itunes.Track
	err    error
}

func (f *fakeMetadata) Search(ctx context.Context, artist, title string) ([]itunes.Track, error) {
	return f.tracks, f.err
}

type fakeLyrics struct {
	candidates []lyrics.Candidate
	err        error
}

func (f *fakeLyrics) Search(ctx context.Context, artist, title, album string) ([]lyrics.Candidate, error) {
	return f.candidates, f.err
}

type reportCapture struct {
	progress []int
	statuses []types.JobStatus
	messages []string
}

func (rc *reportCapture) fn() ReportFunc {
	return func(status types.JobStatus, progress int, message string) {
		rc.statuses = append(rc.statuses, status)
		rc.progress = append(rc.progress, progress)
		rc.messages = append(rc.messages, message)
	}
}

type env struct {
	store   *store.Store
	jobs    *jobstore.JobStore
	lib     *fsutil.Library
	fetcher *media.StubFetcher
	sep     *media.StubSeparator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	libRoot := filepath.Join(dir, "library")
	require.NoError(t, os.MkdirAll(libRoot, 0o750))

	return &env{
		store:   s,
		jobs:    jobstore.New(s),
		lib:     fsutil.NewLibrary(libRoot),
		fetcher: &media.StubFetcher{},
		sep:     &media.StubSeparator{},
	}
}

func (e *env) runner(meta MetadataProvider, lyr LyricsProvider) *Runner {
	return New(e.store, e.jobs, e.lib, e.fetcher, e.sep, meta, lyr, Timeouts{})
}

func (e *env) createSong(t *testing.T, source types.SongSource, videoID string) *store.Song {
	t.Helper()
	song := &store.Song{Title: "Test Song", Artist: "Test Artist", Source: source, VideoID: videoID}
	id, err := e.store.CreateSong(context.Background(), song)
	require.NoError(t, err)
	song.ID = id
	return song
}

func (e *env) createReservedJob(t *testing.T, songID string, kind types.JobKind) *jobstore.Job {
	t.Helper()
	ctx := context.Background()
	_, err := e.jobs.Create(ctx, songID, kind, jobstore.Notes{})
	require.NoError(t, err)
	job, err := e.jobs.ReserveNext(ctx, "test-worker")
	require.NoError(t, err)
	return job
}

func (e *env) writeOriginal(t *testing.T, songID string) {
	t.Helper()
	dir, err := e.lib.SongDir(songID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, fsutil.KeyOriginal), []byte("audio"), 0o640))
}

func TestUploadPipelineHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceUpload, "")
	e.writeOriginal(t, song.ID)
	job := e.createReservedJob(t, song.ID, types.JobKindUpload)

	rc := &reportCapture{}
	require.NoError(t, e.runner(nil, nil).Run(ctx, job, rc.fn()))

	// The fetcher is never consulted for uploads.
	assert.Empty(t, e.fetcher.Calls())
	require.Len(t, e.sep.Calls(), 1)

	got, err := e.store.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SongStatusCompleted, got.Status)
	assert.Equal(t, fsutil.KeyVocals, got.Paths[store.PathVocals])
	assert.Equal(t, fsutil.KeyInstrumental, got.Paths[store.PathInstrumental])

	vocals, err := e.lib.Resolve(song.ID, fsutil.KeyVocals)
	require.NoError(t, err)
	assert.FileExists(t, vocals)

	// Progress never moves backwards and ends at 100.
	require.NotEmpty(t, rc.progress)
	last := -1
	for _, p := range rc.progress {
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 100, last)
}

func TestYouTubePipelineFetchesAndEnriches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceYouTube, "dQw4w9WgXcQ")
	job := e.createReservedJob(t, song.ID, types.JobKindYouTube)

	e.fetcher.Result = &media.FetchResult{
		Title:      "Never Gonna Give You Up",
		DurationMs: 213_000,
		Thumbnails: []media.ThumbnailInfo{{URL: "https://i.ytimg.com/x.jpg", Width: 480, Height: 360}},
	}
	meta := &fakeMetadata{tracks: []itunes.Track{{
		TrackID: 7, ArtistID: 8, CollectionID: 9,
		TrackName: "Test Song", ArtistName: "Test Artist",
		CollectionName: "Test Album", Genre: "Pop", ReleaseDate: "1987-07-27",
	}}}
	lyr := &fakeLyrics{candidates: []lyrics.Candidate{{
		TrackName: "Test Song", ArtistName: "Test Artist",
		DurationSec: 213, PlainLyrics: "never gonna give you up",
		SyncedLyrics: "[00:18.00]never gonna give you up",
	}}}

	rc := &reportCapture{}
	require.NoError(t, e.runner(meta, lyr).Run(ctx, job, rc.fn()))

	require.Len(t, e.fetcher.Calls(), 1)
	assert.Equal(t, "dQw4w9WgXcQ", e.fetcher.Calls()[0].VideoID)

	got, err := e.store.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SongStatusCompleted, got.Status)
	assert.EqualValues(t, 213_000, got.DurationMs)
	require.Len(t, got.Thumbnails, 1)
	assert.Equal(t, "Test Album", got.Album)
	assert.Equal(t, "Pop", got.Genre)
	assert.Equal(t, 1987, got.Year)
	assert.EqualValues(t, 7, got.ITunes.TrackID)

	savedLyrics, err := e.store.GetLyrics(ctx, song.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, savedLyrics.SyncedText)
	assert.Equal(t, "lrclib", savedLyrics.Source)

	// The download phase reports the downloading status.
	assert.Contains(t, rc.statuses, types.JobStatusDownloading)
}

func TestPipelineSkipsExistingArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceYouTube, "abc123xyz-_")
	e.writeOriginal(t, song.ID)

	// Simulate a crashed first attempt that produced everything but never
	// finalized.
	dir, err := e.lib.SongDir(song.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, fsutil.KeyVocals), []byte("v"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fsutil.KeyInstrumental), []byte("i"), 0o640))
	_, err = e.store.UpdateSong(ctx, song.ID, store.SongPatch{Paths: map[string]string{
		store.PathOriginal:     fsutil.KeyOriginal,
		store.PathVocals:       fsutil.KeyVocals,
		store.PathInstrumental: fsutil.KeyInstrumental,
	}})
	require.NoError(t, err)

	job := e.createReservedJob(t, song.ID, types.JobKindYouTube)

	rc := &reportCapture{}
	require.NoError(t, e.runner(nil, nil).Run(ctx, job, rc.fn()))

	// Neither tool runs again.
	assert.Empty(t, e.fetcher.Calls())
	assert.Empty(t, e.sep.Calls())

	got, err := e.store.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SongStatusCompleted, got.Status)
}

func TestPipelineStopsOnCancellation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceUpload, "")
	e.writeOriginal(t, song.ID)
	job := e.createReservedJob(t, song.ID, types.JobKindUpload)

	_, _, err := e.jobs.RequestCancel(ctx, job.ID)
	require.NoError(t, err)

	rc := &reportCapture{}
	err = e.runner(nil, nil).Run(ctx, job, rc.fn())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, e.sep.Calls())
}

// stallSeparator parks in Separate until its context dies. When release is
// set it reports progress once after release closes, exercising the
// mid-step cancellation safe point.
type stallSeparator struct {
	started chan struct{}
	release chan struct{}
}

func (s *stallSeparator) Separate(ctx context.Context, req media.SeparateRequest) error {
	close(s.started)
	if s.release != nil {
		<-s.release
		req.Progress(50)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestCancelRequestAbortsRunningSeparation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceUpload, "")
	e.writeOriginal(t, song.ID)
	job := e.createReservedJob(t, song.ID, types.JobKindUpload)

	sep := &stallSeparator{started: make(chan struct{}), release: make(chan struct{})}
	runner := New(e.store, e.jobs, e.lib, e.fetcher, sep, nil, nil, Timeouts{})

	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(ctx, job, (&reportCapture{}).fn())
	}()

	// Land the cancel request while separation is in flight, then let the
	// separator hit its next progress report.
	<-sep.started
	_, changed, err := e.jobs.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, changed)
	close(sep.release)

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going after the cancel request")
	}
}

func TestShutdownInterruptsSeparation(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, types.SourceUpload, "")
	e.writeOriginal(t, song.ID)
	job := e.createReservedJob(t, song.ID, types.JobKindUpload)

	sep := &stallSeparator{started: make(chan struct{})}
	runner := New(e.store, e.jobs, e.lib, e.fetcher, sep, nil, nil, Timeouts{})

	runCtx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(runCtx, job, (&reportCapture{}).fn())
	}()

	<-sep.started
	cancel()

	select {
	case err := <-runErr:
		// Worker shutdown is not a cancellation: the caller keeps the
		// reservation instead of finishing the job.
		assert.ErrorIs(t, err, ErrInterrupted)
		assert.NotErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going after shutdown")
	}
}

func TestPipelinePropagatesFetchFailureKind(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceYouTube, "gonevideo01")
	job := e.createReservedJob(t, song.ID, types.JobKindYouTube)

	e.fetcher.Err = &media.Error{Kind: types.ErrKindFetchGone, Detail: "video removed"}

	rc := &reportCapture{}
	err := e.runner(nil, nil).Run(ctx, job, rc.fn())
	require.Error(t, err)
	assert.Equal(t, types.ErrKindFetchGone, media.KindOf(err))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "fetch", stepErr.Step)
}

func TestPipelineSeparatorFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceUpload, "")
	e.writeOriginal(t, song.ID)
	job := e.createReservedJob(t, song.ID, types.JobKindUpload)

	e.sep.Err = &media.Error{Kind: types.ErrKindSepUnavailable, Detail: "no gpu"}

	err := e.runner(nil, nil).Run(ctx, job, (&reportCapture{}).fn())
	require.Error(t, err)
	assert.Equal(t, types.ErrKindSepUnavailable, media.KindOf(err))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "separate", stepErr.Step)

	// The song is not finalized after a failed run.
	got, err := e.store.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.NotEqual(t, types.SongStatusCompleted, got.Status)
}

func TestEnrichmentFailuresAreNonFatal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, types.SourceUpload, "")
	e.writeOriginal(t, song.ID)
	job := e.createReservedJob(t, song.ID, types.JobKindUpload)

	meta := &fakeMetadata{err: errors.New("itunes down")}
	lyr := &fakeLyrics{err: errors.New("lrclib down")}

	require.NoError(t, e.runner(meta, lyr).Run(ctx, job, (&reportCapture{}).fn()))

	got, err := e.store.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SongStatusCompleted, got.Status)
}

func TestScale(t *testing.T) {
	assert.Equal(t, 0, scale(0, 0, 30))
	assert.Equal(t, 30, scale(100, 0, 30))
	assert.Equal(t, 60, scale(50, 30, 90))
	assert.Equal(t, 90, scale(250, 30, 90))
	assert.Equal(t, 30, scale(-5, 30, 90))
}
