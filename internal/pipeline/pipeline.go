// SPDX-License-Identifier: MIT

// Package pipeline turns a reserved job into library artifacts. A run walks
// fixed steps: fetch the source audio (youtube jobs only), separate it into
// stems, enrich metadata and lyrics, then finalize the song. Steps are
// idempotent: a step whose outputs already exist is skipped, so a job that
// was reopened after a crash resumes where the artifacts stop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/media"
	"github.com/openkaraoke/studio/internal/metrics"
	"github.com/openkaraoke/studio/internal/providers/itunes"
	"github.com/openkaraoke/studio/internal/providers/lyrics"
	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/types"
)

// Progress bands. Each step reports local 0..100 progress which is scaled
// into its band, so overall job progress is monotonic across steps.
const (
	bandFetchEnd    = 30
	bandSeparateEnd = 90
	bandEnrichEnd   = 95
	bandDone        = 100
)

// ErrCancelled aborts a run after a cancel request.
var ErrCancelled = errors.New("job cancelled")

// ErrInterrupted means the worker is shutting down mid-run. The job keeps
// its reservation; the stale sweep returns it to the backlog and another
// worker resumes it.
var ErrInterrupted = errors.New("run interrupted by shutdown")

// StepError tags a step failure with the step that raised it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// ReportFunc receives job state changes during a run. Implementations
// persist the change and publish it; errors from reporting are not fatal to
// the run.
type ReportFunc func(status types.JobStatus, progress int, message string)

// MetadataProvider is the slice of the itunes client the pipeline needs.
type MetadataProvider interface {
	Search(ctx context.Context, artist, title string) ([]itunes.Track, error)
}

// LyricsProvider is the slice of the lyrics client the pipeline needs.
type LyricsProvider interface {
	Search(ctx context.Context, artist, title, album string) ([]lyrics.Candidate, error)
}

// Timeouts bounds the external steps. Zero means no deadline.
type Timeouts struct {
	Fetch    time.Duration
	Separate time.Duration
	Metadata time.Duration
	Lyrics   time.Duration
}

// Runner executes pipelines. All dependencies are required except the two
// providers, which may be nil to disable enrichment.
type Runner struct {
	Store     *store.Store
	Jobs      *jobstore.JobStore
	Library   *fsutil.Library
	Fetcher   media.Fetcher
	Separator media.Separator
	Metadata  MetadataProvider
	Lyrics    LyricsProvider
	Timeouts  Timeouts

	log zerolog.Logger
}

// New builds a runner.
func New(st *store.Store, jobs *jobstore.JobStore, lib *fsutil.Library,
	fetcher media.Fetcher, separator media.Separator,
	metadata MetadataProvider, lyr LyricsProvider, timeouts Timeouts) *Runner {
	return &Runner{
		Store:     st,
		Jobs:      jobs,
		Library:   lib,
		Fetcher:   fetcher,
		Separator: separator,
		Metadata:  metadata,
		Lyrics:    lyr,
		Timeouts:  timeouts,
		log:       log.WithComponent("pipeline"),
	}
}

// Run executes the pipeline for one reserved job. It returns nil on
// success, ErrCancelled when the job was cancelled cooperatively,
// ErrInterrupted when the worker is shutting down, or a step-tagged failure
// otherwise. The caller owns the terminal jobstore transition.
func (r *Runner) Run(ctx context.Context, job *jobstore.Job, report ReportFunc) error {
	logger := r.log.With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldSongID, job.SongID).
		Str(log.FieldKind, string(job.Kind)).
		Logger()

	song, err := r.Store.GetSong(ctx, job.SongID)
	if err != nil {
		return &media.Error{Kind: types.ErrKindPersistence, Detail: "load song", Err: err}
	}

	// Every progress report is a cancellation safe point: once a cancel
	// request lands, the run context is torn down so a long fetch or
	// separation aborts without waiting out its step deadline.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	report = r.cancelAware(job.ID, report, cancelRun)

	steps := []struct {
		name string
		run  func(context.Context, *store.Song, ReportFunc) (*store.Song, error)
	}{
		{"fetch", r.stepFetch},
		{"separate", r.stepSeparate},
		{"enrich", r.stepEnrich},
		{"finalize", r.stepFinalize},
	}

	for _, step := range steps {
		if err := r.checkCancelled(ctx, job.ID); err != nil {
			return err
		}

		started := time.Now()
		next, err := step.run(runCtx, song, report)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ObserveJobStep(step.name, outcome, time.Since(started))

		if err != nil {
			err = r.classify(ctx, job.ID, step.name, err)
			logger.Warn().Err(err).Str(log.FieldStep, step.name).Msg("pipeline step failed")
			return err
		}
		song = next
		logger.Debug().Str(log.FieldStep, step.name).Msg("pipeline step done")
	}
	return nil
}

// pollCtx bounds cancellation polls independently of the run context, which
// may already be dead when the poll happens.
func pollCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (r *Runner) checkCancelled(ctx context.Context, jobID string) error {
	pctx, cancel := pollCtx()
	defer cancel()
	cancelling, err := r.Jobs.IsCancelling(pctx, jobID)
	if err != nil {
		return &media.Error{Kind: types.ErrKindPersistence, Detail: "poll cancellation", Err: err}
	}
	if cancelling {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	return nil
}

// cancelAware wraps the reporter so that each report also polls for a
// pending cancel request and tears the run context down when one landed.
func (r *Runner) cancelAware(jobID string, report ReportFunc, cancelRun context.CancelFunc) ReportFunc {
	return func(status types.JobStatus, progress int, message string) {
		report(status, progress, message)
		pctx, cancel := pollCtx()
		defer cancel()
		if cancelling, err := r.Jobs.IsCancelling(pctx, jobID); err == nil && cancelling {
			cancelRun()
		}
	}
}

// classify decides what a failed step means. A pending cancel request wins;
// a dead parent context means the worker is shutting down and the job must
// keep its reservation; everything else is the step's own failure, tagged
// with the step name.
func (r *Runner) classify(ctx context.Context, jobID, step string, err error) error {
	pctx, cancel := pollCtx()
	defer cancel()
	if cancelling, perr := r.Jobs.IsCancelling(pctx, jobID); perr == nil && cancelling {
		return ErrCancelled
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrInterrupted
	}
	return &StepError{Step: step, Err: err}
}

// stepFetch downloads source audio for youtube songs. Upload songs, and
// resumed jobs whose original already exists, skip straight through.
func (r *Runner) stepFetch(ctx context.Context, song *store.Song, report ReportFunc) (*store.Song, error) {
	if song.Source != types.SourceYouTube {
		report(types.JobStatusProcessing, bandFetchEnd, "using uploaded audio")
		return song, nil
	}

	dest, err := r.Library.Resolve(song.ID, fsutil.KeyOriginal)
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "resolve original path", Err: err}
	}
	if song.Paths[store.PathOriginal] != "" && fsutil.Exists(dest) {
		report(types.JobStatusProcessing, bandFetchEnd, "source audio already present")
		return song, nil
	}

	report(types.JobStatusDownloading, 0, "downloading source audio")
	if _, err := r.Library.SongDir(song.ID); err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "create song directory", Err: err}
	}

	fetchCtx := ctx
	if r.Timeouts.Fetch > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.Timeouts.Fetch)
		defer cancel()
	}

	res, err := r.Fetcher.Fetch(fetchCtx, media.FetchRequest{
		VideoID:  song.VideoID,
		DestPath: dest,
		Progress: func(pct int) {
			report(types.JobStatusDownloading, scale(pct, 0, bandFetchEnd), "downloading source audio")
		},
	})
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &media.Error{Kind: types.ErrKindTimeout, Detail: "fetch step deadline exceeded", Err: err}
		}
		return nil, err
	}

	patch := store.SongPatch{
		Paths: map[string]string{store.PathOriginal: fsutil.KeyOriginal},
	}
	downloading := types.SongStatusDownloading
	patch.Status = &downloading
	if res != nil {
		if res.DurationMs > 0 && song.DurationMs == 0 {
			patch.DurationMs = &res.DurationMs
		}
		if len(res.Thumbnails) > 0 {
			thumbs := make([]store.Thumbnail, 0, len(res.Thumbnails))
			for _, th := range res.Thumbnails {
				thumbs = append(thumbs, store.Thumbnail{URL: th.URL, Width: th.Width, Height: th.Height})
			}
			patch.Thumbnails = thumbs
		}
	}

	updated, err := r.Store.UpdateSong(ctx, song.ID, patch)
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "record fetched audio", Err: err}
	}
	report(types.JobStatusProcessing, bandFetchEnd, "source audio ready")
	return updated, nil
}

// stepSeparate renders vocal and instrumental stems unless both already
// exist from an earlier attempt.
func (r *Runner) stepSeparate(ctx context.Context, song *store.Song, report ReportFunc) (*store.Song, error) {
	vocalsPath, err := r.Library.Resolve(song.ID, fsutil.KeyVocals)
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "resolve vocals path", Err: err}
	}
	instPath, err := r.Library.Resolve(song.ID, fsutil.KeyInstrumental)
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "resolve instrumental path", Err: err}
	}

	if song.Paths[store.PathVocals] != "" && song.Paths[store.PathInstrumental] != "" &&
		fsutil.Exists(vocalsPath) && fsutil.Exists(instPath) {
		report(types.JobStatusProcessing, bandSeparateEnd, "stems already present")
		return song, nil
	}

	inputPath, err := r.Library.Resolve(song.ID, fsutil.KeyOriginal)
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "resolve original path", Err: err}
	}
	if !fsutil.Exists(inputPath) {
		return nil, &media.Error{Kind: types.ErrKindSepFailed, Detail: "original audio missing before separation"}
	}

	report(types.JobStatusProcessing, bandFetchEnd, "separating vocals")

	sepCtx := ctx
	if r.Timeouts.Separate > 0 {
		var cancel context.CancelFunc
		sepCtx, cancel = context.WithTimeout(ctx, r.Timeouts.Separate)
		defer cancel()
	}

	err = r.Separator.Separate(sepCtx, media.SeparateRequest{
		InputPath:        inputPath,
		VocalsPath:       vocalsPath,
		InstrumentalPath: instPath,
		Progress: func(pct int) {
			report(types.JobStatusProcessing, scale(pct, bandFetchEnd, bandSeparateEnd), "separating vocals")
		},
	})
	if err != nil {
		if sepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &media.Error{Kind: types.ErrKindTimeout, Detail: "separate step deadline exceeded", Err: err}
		}
		return nil, err
	}

	processing := types.SongStatusProcessing
	updated, err := r.Store.UpdateSong(ctx, song.ID, store.SongPatch{
		Status: &processing,
		Paths: map[string]string{
			store.PathVocals:       fsutil.KeyVocals,
			store.PathInstrumental: fsutil.KeyInstrumental,
		},
	})
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "record stems", Err: err}
	}
	report(types.JobStatusProcessing, bandSeparateEnd, "stems ready")
	return updated, nil
}

// stepEnrich pulls metadata and lyrics. Enrichment is best-effort: provider
// failures are logged and the run continues.
func (r *Runner) stepEnrich(ctx context.Context, song *store.Song, report ReportFunc) (*store.Song, error) {
	report(types.JobStatusProcessing, bandSeparateEnd, "enriching metadata")

	song = r.enrichMetadata(ctx, song)
	r.enrichLyrics(ctx, song)

	report(types.JobStatusProcessing, bandEnrichEnd, "enrichment done")
	return song, nil
}

func (r *Runner) enrichMetadata(ctx context.Context, song *store.Song) *store.Song {
	if r.Metadata == nil {
		return song
	}
	if r.Timeouts.Metadata > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeouts.Metadata)
		defer cancel()
	}
	tracks, err := r.Metadata.Search(ctx, song.Artist, song.Title)
	if err != nil {
		r.log.Warn().Err(err).Str(log.FieldSongID, song.ID).Msg("metadata enrichment failed")
		return song
	}
	match := itunes.BestMatch(tracks, song.Artist, song.Title)
	if match == nil {
		return song
	}

	patch := store.SongPatch{
		ITunes: &store.ITunesIDs{
			TrackID:      match.TrackID,
			ArtistID:     match.ArtistID,
			CollectionID: match.CollectionID,
		},
	}
	if song.Album == "" && match.CollectionName != "" {
		patch.Album = &match.CollectionName
	}
	if song.Genre == "" && match.Genre != "" {
		patch.Genre = &match.Genre
	}
	if song.Year == 0 && len(match.ReleaseDate) >= 4 {
		if y := parseYear(match.ReleaseDate); y > 0 {
			patch.Year = &y
		}
	}
	if song.DurationMs == 0 && match.TrackTimeMs > 0 {
		patch.DurationMs = &match.TrackTimeMs
	}

	updated, err := r.Store.UpdateSong(ctx, song.ID, patch)
	if err != nil {
		r.log.Warn().Err(err).Str(log.FieldSongID, song.ID).Msg("saving enriched metadata failed")
		return song
	}
	return updated
}

func (r *Runner) enrichLyrics(ctx context.Context, song *store.Song) {
	if r.Lyrics == nil {
		return
	}
	if _, err := r.Store.GetLyrics(ctx, song.ID); err == nil {
		return // already enriched on an earlier attempt
	}

	if r.Timeouts.Lyrics > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeouts.Lyrics)
		defer cancel()
	}
	candidates, err := r.Lyrics.Search(ctx, song.Artist, song.Title, song.Album)
	if err != nil {
		r.log.Warn().Err(err).Str(log.FieldSongID, song.ID).Msg("lyrics enrichment failed")
		return
	}
	match := lyrics.BestMatch(candidates, song.Artist, song.Title, song.DurationMs)
	if match == nil {
		return
	}

	rec := &store.Lyrics{
		SongID:         song.ID,
		PlainText:      match.PlainLyrics,
		Source:         "lrclib",
		DurationHintMs: int64(match.DurationSec * 1000),
	}
	if match.SyncedLyrics != "" {
		if err := lyrics.ValidateLRC(match.SyncedLyrics); err != nil {
			r.log.Warn().Err(err).Str(log.FieldSongID, song.ID).Msg("rejecting malformed synced lyrics")
		} else {
			rec.SyncedText = match.SyncedLyrics
		}
	}
	if rec.PlainText == "" && rec.SyncedText == "" {
		return
	}
	if err := r.Store.SetLyrics(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str(log.FieldSongID, song.ID).Msg("saving lyrics failed")
	}
}

// stepFinalize flips the song to completed once both stems are recorded.
func (r *Runner) stepFinalize(ctx context.Context, song *store.Song, report ReportFunc) (*store.Song, error) {
	completed := types.SongStatusCompleted
	updated, err := r.Store.UpdateSong(ctx, song.ID, store.SongPatch{Status: &completed})
	if err != nil {
		return nil, &media.Error{Kind: types.ErrKindPersistence, Detail: "finalize song", Err: err}
	}
	report(types.JobStatusProcessing, bandDone, "completed")
	return updated, nil
}

// scale maps a step-local 0..100 value into [lo, hi].
func scale(pct, lo, hi int) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return lo + (hi-lo)*pct/100
}

func parseYear(date string) int {
	var y int
	if _, err := fmt.Sscanf(date[:4], "%d", &y); err != nil {
		return 0
	}
	return y
}
