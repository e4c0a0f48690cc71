// SPDX-License-Identifier: MIT

// Package dispatch runs the worker pool that drains the job backlog. Each
// worker loops: reserve the oldest pending job, run the pipeline, record the
// terminal outcome. A sweeper returns reservations abandoned by dead workers
// to the backlog, and a reaper expires terminal jobs and played queue
// entries past their retention window.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/media"
	"github.com/openkaraoke/studio/internal/pipeline"
	"github.com/openkaraoke/studio/internal/types"
)

// Options tunes the pool.
type Options struct {
	Concurrency   int
	BackoffMin    time.Duration // idle poll backoff floor
	BackoffMax    time.Duration // idle poll backoff ceiling
	SweepInterval time.Duration // how often stale reservations are checked
	StaleAfter    time.Duration // reservation age considered abandoned
	ReapInterval  time.Duration // how often retention runs
	Retention     time.Duration // terminal job / played entry lifetime
	ReapPlayed    func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 100 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = time.Minute
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
}

// Dispatcher owns the workers and maintenance loops.
type Dispatcher struct {
	jobs   *jobstore.JobStore
	runner *pipeline.Runner
	bus    *bus.Bus
	opts   Options
	log    zerolog.Logger
}

// New builds a dispatcher.
func New(jobs *jobstore.JobStore, runner *pipeline.Runner, b *bus.Bus, opts Options) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		jobs:   jobs,
		runner: runner,
		bus:    b,
		opts:   opts,
		log:    log.WithComponent("dispatch"),
	}
}

// Run blocks until ctx is cancelled, then drains: workers finish their
// current job before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.opts.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			d.workerLoop(ctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		d.sweepLoop(ctx)
		return nil
	})
	g.Go(func() error {
		d.reapLoop(ctx)
		return nil
	})

	err := g.Wait()
	d.log.Info().Msg("dispatcher stopped")
	return err
}

func (d *Dispatcher) workerLoop(ctx context.Context, worker int) {
	logger := d.log.With().Int("worker", worker).Logger()
	backoff := d.opts.BackoffMin

	for {
		if ctx.Err() != nil {
			return
		}

		taskRef := fmt.Sprintf("worker-%d-%s", worker, uuid.NewString())
		job, err := d.jobs.ReserveNext(ctx, taskRef)
		switch {
		case errors.Is(err, jobstore.ErrNoRunnable):
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, d.opts.BackoffMax)
			continue
		case err != nil:
			logger.Error().Err(err).Msg("reserve failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, d.opts.BackoffMax)
			continue
		}

		backoff = d.opts.BackoffMin
		d.execute(ctx, logger, job, taskRef)
	}
}

// execute runs one job to a terminal state. Panics in the pipeline fail the
// job instead of killing the worker.
func (d *Dispatcher) execute(ctx context.Context, logger zerolog.Logger, job *jobstore.Job, taskRef string) {
	logger = logger.With().Str(log.FieldJobID, job.ID).Str(log.FieldSongID, job.SongID).Logger()
	logger.Info().Str(log.FieldKind, string(job.Kind)).Msg("job started")

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("pipeline panic: %v", r)
				logger.Error().Any("panic", r).Msg("pipeline panicked")
			}
		}()
		runErr = d.runner.Run(ctx, job, d.reporter(job.ID, taskRef))
	}()

	switch {
	case runErr == nil:
		d.finish(logger, job.ID, taskRef, types.JobStatusCompleted, types.ErrKindNone, nil)
	case errors.Is(runErr, pipeline.ErrCancelled):
		d.finish(logger, job.ID, taskRef, types.JobStatusCancelled, types.ErrKindCancelled, nil)
	case errors.Is(runErr, pipeline.ErrInterrupted),
		errors.Is(runErr, context.Canceled) && ctx.Err() != nil:
		// Shutdown, not a cancel request: keep the reservation so the
		// stale sweep reopens the job for the next worker.
		logger.Info().Msg("job interrupted by shutdown, reservation kept")
	default:
		detail := map[string]string{"message": runErr.Error()}
		var stepErr *pipeline.StepError
		if errors.As(runErr, &stepErr) {
			detail["step"] = stepErr.Step
		}
		d.finish(logger, job.ID, taskRef, types.JobStatusFailed, pipelineErrorKind(runErr), detail)
	}
}

// finish records the terminal state using a background context so shutdown
// cannot strand a job mid-transition.
func (d *Dispatcher) finish(logger zerolog.Logger, jobID, taskRef string,
	status types.JobStatus, kind types.ErrorKind, detail map[string]string) {

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done, err := d.jobs.Finish(finishCtx, jobID, taskRef, status, kind, detail)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldStatus, string(status)).Msg("recording job outcome failed")
		return
	}
	logger.Info().Str(log.FieldStatus, string(status)).Str(log.FieldKind, string(kind)).Msg("job finished")
	d.bus.Publish(bus.TopicJobFinished, done)
}

// reporter persists pipeline progress under the task reference guard and
// republishes it. A stale guard means another worker took over; the report
// is dropped and the takeover surfaces on the next cancellation poll.
func (d *Dispatcher) reporter(jobID, taskRef string) pipeline.ReportFunc {
	return func(status types.JobStatus, progress int, message string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		updated, err := d.jobs.Apply(ctx, jobID, taskRef, jobstore.Update{
			Status:        &status,
			Progress:      &progress,
			StatusMessage: &message,
		})
		if err != nil {
			if !errors.Is(err, jobstore.ErrStaleRef) && !errors.Is(err, jobstore.ErrBadTransition) {
				d.log.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("progress report failed")
			}
			return
		}
		d.bus.Publish(bus.TopicJobUpdated, updated)
	}
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := d.jobs.ReopenStale(ctx, d.opts.StaleAfter)
			if err != nil {
				if ctx.Err() == nil {
					d.log.Error().Err(err).Msg("stale reservation sweep failed")
				}
				continue
			}
			for _, id := range ids {
				if job, err := d.jobs.Get(ctx, id); err == nil {
					d.bus.Publish(bus.TopicJobUpdated, job)
				}
			}
		}
	}
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-d.opts.Retention)
			jobs, err := d.jobs.ReapTerminalBefore(ctx, cutoff)
			if err != nil && ctx.Err() == nil {
				d.log.Error().Err(err).Msg("job retention sweep failed")
			}
			var played int64
			if d.opts.ReapPlayed != nil {
				played, err = d.opts.ReapPlayed(ctx, cutoff)
				if err != nil && ctx.Err() == nil {
					d.log.Error().Err(err).Msg("queue retention sweep failed")
				}
			}
			if jobs > 0 || played > 0 {
				d.log.Info().Int64("jobs", jobs).Int64("played_entries", played).
					Msg("retention sweep removed expired rows")
			}
		}
	}
}

func pipelineErrorKind(err error) types.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrKindTimeout
	}
	return media.KindOf(err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
