// SPDX-License-Identifier: MIT

// Package coordinator is the service façade in front of the store, the job
// store and the event bus. It enforces create-then-enqueue ordering and
// publishes events only after the database commit, so push snapshots and the
// event stream never disagree.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/metrics"
	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/types"
)

// Coordinator ties Store, JobStore and Bus together behind one API.
type Coordinator struct {
	store *store.Store
	jobs  *jobstore.JobStore
	bus   *bus.Bus
	lib   *fsutil.Library
	perf  *performanceState
	log   zerolog.Logger
}

// New builds a coordinator with default performance controls.
func New(s *store.Store, js *jobstore.JobStore, b *bus.Bus, lib *fsutil.Library) *Coordinator {
	return &Coordinator{
		store: s,
		jobs:  js,
		bus:   b,
		lib:   lib,
		perf:  newPerformanceState(),
		log:   log.WithComponent("coordinator"),
	}
}

// CreateSongInput is the creation request. SourceURL is optional for youtube
// songs when VideoID is given directly.
type CreateSongInput struct {
	Title     string           `json:"title"`
	Artist    string           `json:"artist"`
	Album     string           `json:"album,omitempty"`
	Source    types.SongSource `json:"source"`
	SourceURL string           `json:"sourceUrl,omitempty"`
	VideoID   string           `json:"videoId,omitempty"`
}

// CreateSong writes a Song row and returns it. A youtube source with a video
// id already in the library dedups: the existing song is returned unchanged.
func (c *Coordinator) CreateSong(ctx context.Context, in CreateSongInput) (*store.Song, bool, error) {
	videoID := in.VideoID
	if in.Source == types.SourceYouTube && videoID == "" {
		var err error
		videoID, err = ExtractVideoID(in.SourceURL)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", store.ErrInvalid, err)
		}
	}

	if in.Source == types.SourceYouTube && videoID != "" {
		existing, err := c.store.FindSongByVideoID(ctx, videoID)
		switch {
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, err
		}
	}

	song := &store.Song{
		Title:     in.Title,
		Artist:    in.Artist,
		Album:     in.Album,
		Source:    in.Source,
		SourceURL: in.SourceURL,
		VideoID:   videoID,
	}
	id, err := c.store.CreateSong(ctx, song)
	if err != nil {
		return nil, false, err
	}

	created, err := c.store.GetSong(ctx, id)
	if err != nil {
		return nil, false, err
	}
	c.log.Info().Str(log.FieldSongID, id).Str("source", string(in.Source)).Msg("song created")
	return created, true, nil
}

// EnqueueYouTubeJob creates a pending youtube job for an existing song. The
// video id travels in the job notes so the worker does not depend on the song
// row staying unchanged.
func (c *Coordinator) EnqueueYouTubeJob(ctx context.Context, songID string) (*jobstore.Job, error) {
	song, err := c.store.GetSong(ctx, songID)
	if err != nil {
		return nil, err
	}
	if song.Source != types.SourceYouTube || song.VideoID == "" {
		return nil, fmt.Errorf("%w: song %s has no youtube video id", store.ErrInvalid, songID)
	}

	job, err := c.jobs.Create(ctx, songID, types.JobKindYouTube, jobstore.Notes{
		YouTube: &jobstore.YouTubeNotes{VideoID: song.VideoID},
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(bus.TopicJobCreated, job)
	c.log.Info().Str(log.FieldJobID, job.ID).Str(log.FieldSongID, songID).Msg("youtube job enqueued")
	return job, nil
}

// EnqueueUploadJob ingests the uploaded audio as the song's original file and
// creates a pending upload job. The file lands atomically; the path mapping is
// only patched once the bytes are on disk.
func (c *Coordinator) EnqueueUploadJob(ctx context.Context, songID string, audio io.Reader) (*jobstore.Job, error) {
	song, err := c.store.GetSong(ctx, songID)
	if err != nil {
		return nil, err
	}
	if song.Source != types.SourceUpload {
		return nil, fmt.Errorf("%w: song %s is not an upload", store.ErrInvalid, songID)
	}

	dir, err := c.lib.SongDir(songID)
	if err != nil {
		return nil, err
	}
	if err := fsutil.CopyAtomic(filepath.Join(dir, fsutil.KeyOriginal), audio); err != nil {
		return nil, fmt.Errorf("ingest upload: %w", err)
	}
	if _, err := c.store.UpdateSong(ctx, songID, store.SongPatch{
		Paths: map[string]string{store.PathOriginal: fsutil.KeyOriginal},
	}); err != nil {
		return nil, err
	}

	job, err := c.jobs.Create(ctx, songID, types.JobKindUpload, jobstore.Notes{
		Upload: &jobstore.UploadNotes{SourcePath: filepath.Join(songID, fsutil.KeyOriginal)},
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(bus.TopicJobCreated, job)
	c.log.Info().Str(log.FieldJobID, job.ID).Str(log.FieldSongID, songID).Msg("upload job enqueued")
	return job, nil
}

// CancelJob requests cancellation. Pending jobs finish immediately; running
// jobs move to cancelling and their worker confirms at the next safe point.
// Cancelling an already-terminal job returns it unchanged without an event.
func (c *Coordinator) CancelJob(ctx context.Context, jobID string) (*jobstore.Job, error) {
	job, changed, err := c.jobs.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return job, nil
	}
	if job.Status.IsTerminal() {
		c.bus.Publish(bus.TopicJobFinished, job)
	} else {
		c.bus.Publish(bus.TopicJobUpdated, job)
	}
	return job, nil
}

// QueueEvent is the payload on the queue topic: what happened plus the
// resulting live queue.
type QueueEvent struct {
	Action  string              `json:"action"`
	Entry   *store.QueueEntry   `json:"entry,omitempty"`
	Entries []*store.QueueEntry `json:"entries"`
}

// AddToQueue appends a singer's pick to the tail of the queue.
func (c *Coordinator) AddToQueue(ctx context.Context, songID, singerName string) (*store.QueueEntry, error) {
	entry, err := c.store.InsertQueueEntry(ctx, songID, singerName)
	if err != nil {
		return nil, err
	}
	c.publishQueue(ctx, "added", entry)
	return entry, nil
}

// RemoveFromQueue deletes a queued entry and closes the position gap.
func (c *Coordinator) RemoveFromQueue(ctx context.Context, entryID int64) error {
	if err := c.store.RemoveQueueEntry(ctx, entryID); err != nil {
		return err
	}
	c.publishQueue(ctx, "removed", nil)
	return nil
}

// ReorderQueue rewrites the queued positions; entryIDs must be a permutation
// of the current queued set.
func (c *Coordinator) ReorderQueue(ctx context.Context, entryIDs []int64) error {
	if err := c.store.ReorderQueue(ctx, entryIDs); err != nil {
		return err
	}
	c.publishQueue(ctx, "reordered", nil)
	return nil
}

// AdvanceQueue rotates the queue: playing becomes played, the head becomes
// playing. The new playing entry is nil when the queue drained.
func (c *Coordinator) AdvanceQueue(ctx context.Context) (*store.QueueEntry, error) {
	entry, err := c.store.AdvanceQueue(ctx)
	if err != nil {
		return nil, err
	}
	c.perf.setCurrentEntry(entry)
	c.publishQueue(ctx, "advanced", entry)
	c.publishPerformance("changed", nil)
	return entry, nil
}

// ListQueue returns the live queue, playing entry first.
func (c *Coordinator) ListQueue(ctx context.Context) ([]*store.QueueEntry, error) {
	return c.store.ListQueue(ctx)
}

func (c *Coordinator) publishQueue(ctx context.Context, action string, entry *store.QueueEntry) {
	entries, err := c.store.ListQueue(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("queue listing after mutation failed")
		entries = nil
	}
	if depth, err := c.store.QueueDepth(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}
	c.bus.Publish(bus.TopicQueueChanged, &QueueEvent{Action: action, Entry: entry, Entries: entries})
}
