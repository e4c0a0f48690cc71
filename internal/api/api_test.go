// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/coordinator"
	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/jobstore"
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

type env struct {
	store  *store.Store
	jobs   *jobstore.JobStore
	coord  *coordinator.Coordinator
	lib    *fsutil.Library
	meta   *fakeMetadata
	lyrics *fakeLyrics
	server *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	b := bus.New()
	t.Cleanup(b.Close)

	libRoot := filepath.Join(dir, "library")
	require.NoError(t, os.MkdirAll(libRoot, 0o750))
	lib := fsutil.NewLibrary(libRoot)

	js := jobstore.New(s)
	coord := coordinator.New(s, js, b, lib)
	meta := &fakeMetadata{}
	lyr := &fakeLyrics{}

	srv := New(Options{
		Store:    s,
		Jobs:     js,
		Coord:    coord,
		Library:  lib,
		Metadata: meta,
		Lyrics:   lyr,
	})
	server := httptest.NewServer(srv.Routes())
	t.Cleanup(server.Close)

	return &env{store: s, jobs: js, coord: coord, lib: lib, meta: meta, lyrics: lyr, server: server}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *env) createSong(t *testing.T, title, artist string, source types.SongSource, videoID string) *store.Song {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/songs", map[string]any{
		"title": title, "artist": artist, "source": string(source), "videoId": videoID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	song := decode[*store.Song](t, resp)
	require.NotEmpty(t, song.ID)
	return song
}

func TestCreateAndGetSongRoundTrip(t *testing.T) {
	e := newEnv(t)

	song := e.createSong(t, "Bohemian Rhapsody", "Queen", types.SourceYouTube, "fJ9rUzIMcZQ")
	assert.Equal(t, types.SongStatusPending, song.Status)

	resp := e.do(t, http.MethodGet, "/api/songs/"+song.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[*store.Song](t, resp)
	assert.Equal(t, "Bohemian Rhapsody", got.Title)
	assert.Equal(t, "Queen", got.Artist)
	assert.Equal(t, "fJ9rUzIMcZQ", got.VideoID)

	// A second create with the same video id dedups to the same song.
	dup := e.createSong(t, "Other Title", "Other Artist", types.SourceYouTube, "fJ9rUzIMcZQ")
	assert.Equal(t, song.ID, dup.ID)
	assert.Equal(t, "Bohemian Rhapsody", dup.Title)
}

func TestCreateSongValidation(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/songs", map[string]any{"title": "No Artist"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, codeMissingParams, body.Code)
}

func TestGetSongNotFoundEnvelope(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/songs/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, codeNotFound, body.Code)
	assert.NotEmpty(t, body.Error)
}

func TestPatchSongFavorite(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Song", "Artist", types.SourceUpload, "")

	resp := e.do(t, http.MethodPatch, "/api/songs/"+song.ID, map[string]any{"favorite": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[*store.Song](t, resp)
	assert.True(t, got.Favorite)
}

func TestDeleteSongBlockedByActiveJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, "Song", "Artist", types.SourceYouTube, "abc123def45")

	_, err := e.coord.EnqueueYouTubeJob(ctx, song.ID)
	require.NoError(t, err)

	resp := e.do(t, http.MethodDelete, "/api/songs/"+song.ID, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, codeInUse, decode[errorBody](t, resp).Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/songs/search", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeMissingParams, decode[errorBody](t, resp).Code)
}

func TestSearchSongs(t *testing.T) {
	e := newEnv(t)
	e.createSong(t, "Bohemian Rhapsody", "Queen", types.SourceUpload, "")
	e.createSong(t, "Somebody To Love", "Queen", types.SourceUpload, "")

	resp := e.do(t, http.MethodGet, "/api/songs/search?q=bohemian", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[store.Page[*store.Song]](t, resp)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Bohemian Rhapsody", page.Items[0].Title)
}

func TestListArtistsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createSong(t, "Bohemian Rhapsody", "Queen", types.SourceUpload, "")
	e.createSong(t, "Somebody To Love", "Queen", types.SourceUpload, "")

	resp := e.do(t, http.MethodGet, "/api/songs/artists", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[store.Page[*store.Artist]](t, resp)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Queen", page.Items[0].Name)
	assert.Equal(t, 2, page.Items[0].SongCount)
}

func TestYouTubeDownloadFlow(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Bohemian Rhapsody", "Queen", types.SourceYouTube, "fJ9rUzIMcZQ")

	resp := e.do(t, http.MethodPost, "/api/youtube/download", map[string]any{
		"songId": song.ID, "videoId": "fJ9rUzIMcZQ",
		"title": "Bohemian Rhapsody", "artist": "Queen",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.NotEmpty(t, body["jobId"])
	assert.Equal(t, "pending", body["status"])

	// The job row exists and carries the video id.
	job, err := e.jobs.Get(context.Background(), body["jobId"])
	require.NoError(t, err)
	require.NotNil(t, job.Notes.YouTube)
	assert.Equal(t, "fJ9rUzIMcZQ", job.Notes.YouTube.VideoID)
}

func TestYouTubeDownloadMissingSongIs400(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/youtube/download", map[string]any{
		"songId": "00000000-0000-0000-0000-000000000000",
		"videoId": "abc", "title": "x", "artist": "y",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeNotFound, decode[errorBody](t, resp).Code)

	resp = e.do(t, http.MethodPost, "/api/youtube/download", map[string]any{
		"videoId": "abc", "title": "x", "artist": "y",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeMissingParams, decode[errorBody](t, resp).Code)

	// No job row was written.
	jobs, err := e.jobs.List(context.Background(), jobstore.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobLifecycleEndpoints(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	song := e.createSong(t, "Song", "Artist", types.SourceYouTube, "abc123def45")

	job, err := e.coord.EnqueueYouTubeJob(ctx, song.ID)
	require.NoError(t, err)

	resp := e.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[map[string][]*jobstore.Job](t, resp)
	require.Len(t, listing["jobs"], 1)

	resp = e.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/jobs/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[jobstore.StatusSummary](t, resp)
	assert.Equal(t, 1, summary.Pending)

	resp = e.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[*jobstore.Job](t, resp)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)

	resp = e.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/dismiss", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Dismissed jobs drop out of the default listing.
	resp = e.do(t, http.MethodGet, "/api/jobs", nil)
	listing = decode[map[string][]*jobstore.Job](t, resp)
	assert.Empty(t, listing["jobs"])
}

func TestQueueEndpoints(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Song", "Artist", types.SourceUpload, "")

	resp := e.do(t, http.MethodPost, "/api/karaoke-queue", map[string]any{
		"songId": song.ID, "singerName": "Alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	a := decode[*store.QueueEntry](t, resp)
	assert.Equal(t, 1, a.Position)

	resp = e.do(t, http.MethodPost, "/api/karaoke-queue", map[string]any{
		"songId": song.ID, "singerName": "Bob",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	b := decode[*store.QueueEntry](t, resp)

	resp = e.do(t, http.MethodPut, "/api/karaoke-queue/reorder", map[string]any{
		"entryIds": []int64{b.EntryID, a.EntryID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue := decode[map[string][]*store.QueueEntry](t, resp)
	require.Len(t, queue["queue"], 2)
	assert.Equal(t, b.EntryID, queue["queue"][0].EntryID)

	// A partial permutation is rejected.
	resp = e.do(t, http.MethodPut, "/api/karaoke-queue/reorder", map[string]any{
		"entryIds": []int64{a.EntryID},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/karaoke-queue/advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/karaoke-queue/%d", a.EntryID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/karaoke-queue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue = decode[map[string][]*store.QueueEntry](t, resp)
	require.Len(t, queue["queue"], 1)
	assert.Equal(t, types.QueueStatusPlaying, queue["queue"][0].Status)
}

func TestDownloadStemGatedByPaths(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Song", "Artist", types.SourceUpload, "")

	// Not ready: nothing in the path mapping yet.
	resp := e.do(t, http.MethodGet, "/api/songs/"+song.ID+"/download/vocals", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	dir, err := e.lib.SongDir(song.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, fsutil.KeyVocals), []byte("vocal bytes"), 0o640))
	_, err = e.store.UpdateSong(context.Background(), song.ID, store.SongPatch{
		Paths: map[string]string{store.PathVocals: fsutil.KeyVocals},
	})
	require.NoError(t, err)

	resp = e.do(t, http.MethodGet, "/api/songs/"+song.ID+"/download/vocals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "vocal bytes", string(data))

	resp = e.do(t, http.MethodGet, "/api/songs/"+song.ID+"/download/sheet-music", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestThumbnailNotFound(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Song", "Artist", types.SourceUpload, "")

	resp := e.do(t, http.MethodGet, "/api/songs/"+song.ID+"/thumbnail", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLyricsEndpoints(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Song", "Artist", types.SourceUpload, "")

	resp := e.do(t, http.MethodGet, "/api/lyrics/"+song.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Broken LRC is rejected before anything is stored.
	resp = e.do(t, http.MethodPost, "/api/lyrics/"+song.ID, map[string]any{
		"plainText":  "hello world",
		"syncedText": "[00:30.00]second line\n[00:10.00]first line",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/lyrics/"+song.ID, map[string]any{
		"plainText":  "hello world",
		"syncedText": "[00:10.00]first line\n[00:30.00]second line",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/lyrics/"+song.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[*store.Lyrics](t, resp)
	assert.Equal(t, "hello world", got.PlainText)
	assert.Equal(t, "manual", got.Source)
}

func TestProviderProxies(t *testing.T) {
	e := newEnv(t)
	e.meta.tracks = []itunes.Track{{TrackID: 7, TrackName: "Song", ArtistName: "Artist"}}
	e.lyrics.candidates = []lyrics.Candidate{{TrackName: "Song", ArtistName: "Artist", PlainLyrics: "la la"}}

	resp := e.do(t, http.MethodGet, "/api/metadata/search?artist=Artist&title=Song", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/lyrics/search?artist=Artist&title=Song", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Missing parameters short-circuit before the provider call.
	resp = e.do(t, http.MethodGet, "/api/metadata/search?artist=Artist", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Provider failure surfaces as an upstream error.
	e.meta.err = errors.New("itunes down")
	resp = e.do(t, http.MethodGet, "/api/metadata/search?artist=Artist&title=Song", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, codeUpstream, decode[errorBody](t, resp).Code)
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadEndpointEnqueuesJob(t *testing.T) {
	e := newEnv(t)
	song := e.createSong(t, "Song", "Artist", types.SourceUpload, "")

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/songs/"+song.ID+"/upload",
		bytes.NewReader([]byte("raw audio bytes")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "audio/mpeg")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "pending", body["status"])

	got, err := e.store.GetSong(context.Background(), song.ID)
	require.NoError(t, err)
	assert.Equal(t, fsutil.KeyOriginal, got.Paths[store.PathOriginal])
}
