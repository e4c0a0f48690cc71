// SPDX-License-Identifier: MIT

package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/metrics"
	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/types"
)

// JobStore persists jobs in the library database.
type JobStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// New builds a JobStore over the library store's database.
func New(s *store.Store) *JobStore {
	return &JobStore{db: s.DB(), log: log.WithComponent("jobstore")}
}

const jobColumns = `id, song_id, kind, status, progress, status_message, task_ref,
	error_kind, error_detail_json, notes_json, dismissed,
	created_at_ms, started_at_ms, ended_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j              Job
		detailJSON     string
		notesJSON      string
		dismissed      int
		createdMs      int64
		startedMs      sql.NullInt64
		endedMs        sql.NullInt64
		updatedMs      int64
	)
	err := r.Scan(&j.ID, &j.SongID, &j.Kind, &j.Status, &j.Progress, &j.StatusMessage,
		&j.TaskRef, &j.ErrorKind, &detailJSON, &notesJSON, &dismissed,
		&createdMs, &startedMs, &endedMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(detailJSON), &j.ErrorDetail); err != nil {
		return nil, fmt.Errorf("decode error detail for job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(notesJSON), &j.Notes); err != nil {
		return nil, fmt.Errorf("decode notes for job %s: %w", j.ID, err)
	}
	j.Dismissed = dismissed != 0
	j.CreatedAt = time.UnixMilli(createdMs).UTC()
	j.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if startedMs.Valid {
		t := time.UnixMilli(startedMs.Int64).UTC()
		j.StartedAt = &t
	}
	if endedMs.Valid {
		t := time.UnixMilli(endedMs.Int64).UTC()
		j.EndedAt = &t
	}
	return &j, nil
}

// Create persists a new pending job for an existing song and reads it back
// before returning. A job that cannot be read back after the insert reports
// ErrPersistence.
func (js *JobStore) Create(ctx context.Context, songID string, kind types.JobKind, notes Notes) (*Job, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if err := notes.validateFor(kind); err != nil {
		return nil, err
	}

	var exists int
	if err := js.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM songs WHERE id = ?`, songID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: song %s", store.ErrNotFound, songID)
	}

	notesJSON, _ := json.Marshal(notes)

	id := uuid.NewString()
	now := time.Now().UnixMilli()
	_, err := js.db.ExecContext(ctx, `
	INSERT INTO jobs (id, song_id, kind, status, notes_json, created_at_ms, updated_at_ms)
	VALUES (?, ?, ?, 'pending', ?, ?, ?)`, id, songID, string(kind), string(notesJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	job, err := js.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s not readable after insert: %v", ErrPersistence, id, err)
	}
	return job, nil
}

// Get fetches one job by id.
func (js *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := js.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// ReserveNext atomically claims the oldest pending job for taskRef. The
// claim is a single statement so two workers can never reserve the same job.
func (js *JobStore) ReserveNext(ctx context.Context, taskRef string) (*Job, error) {
	if taskRef == "" {
		taskRef = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	row := js.db.QueryRowContext(ctx, `
	UPDATE jobs SET status = 'reserved', task_ref = ?, started_at_ms = ?, updated_at_ms = ?
	WHERE id = (
		SELECT id FROM jobs WHERE status = 'pending'
		ORDER BY created_at_ms, id LIMIT 1
	)
	RETURNING `+jobColumns, taskRef, now, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRunnable
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", err)
	}
	js.log.Debug().Str(log.FieldJobID, job.ID).Str(log.FieldTaskRef, taskRef).Msg("job reserved")
	return job, nil
}

// Apply mutates a job owned by taskRef. Status changes must be legal in the
// job state machine, and progress never moves backwards: a lower value than
// the stored one is dropped silently so late frames from a slow step cannot
// rewind the visible progress.
func (js *JobStore) Apply(ctx context.Context, id, taskRef string, u Update) (*Job, error) {
	tx, err := js.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if job.TaskRef != taskRef {
		return nil, fmt.Errorf("%w: job %s owned by %q, update from %q", ErrStaleRef, id, job.TaskRef, taskRef)
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s already %s", ErrBadTransition, id, job.Status)
	}

	if u.Status != nil && *u.Status != job.Status {
		if !job.Status.CanTransitionTo(*u.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, job.Status, *u.Status)
		}
		job.Status = *u.Status
	}
	if u.Progress != nil && *u.Progress > job.Progress {
		job.Progress = clampProgress(*u.Progress)
	}
	if u.StatusMessage != nil {
		job.StatusMessage = *u.StatusMessage
	}

	if err := js.writeJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// RequestCancel flips a non-terminal job to cancelling. Pending jobs that no
// worker owns yet are cancelled outright. Cancelling a job that is already
// terminal (or already cancelling) is a no-op: the job comes back unchanged
// and the second return value reports false.
func (js *JobStore) RequestCancel(ctx context.Context, id string) (*Job, bool, error) {
	tx, err := js.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, false, err
	}

	switch {
	case job.Status.IsTerminal(), job.Status == types.JobStatusCancelling:
		return job, false, nil
	case job.Status == types.JobStatusPending:
		now := time.Now().UTC()
		job.Status = types.JobStatusCancelled
		job.ErrorKind = types.ErrKindCancelled
		job.EndedAt = &now
	default:
		job.Status = types.JobStatusCancelling
	}

	if err := js.writeJob(ctx, tx, job); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Finish moves a job owned by taskRef to a terminal status.
func (js *JobStore) Finish(ctx context.Context, id, taskRef string, status types.JobStatus,
	errorKind types.ErrorKind, errorDetail map[string]string) (*Job, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not terminal", ErrBadTransition, status)
	}

	tx, err := js.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if job.TaskRef != taskRef {
		return nil, fmt.Errorf("%w: job %s owned by %q, finish from %q", ErrStaleRef, id, job.TaskRef, taskRef)
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s already %s", ErrBadTransition, id, job.Status)
	}
	if !job.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, job.Status, status)
	}

	now := time.Now().UTC()
	job.Status = status
	job.ErrorKind = errorKind
	job.ErrorDetail = errorDetail
	job.EndedAt = &now
	if status == types.JobStatusCompleted {
		job.Progress = 100
		job.ErrorKind = types.ErrKindNone
		job.ErrorDetail = nil
	}

	if err := js.writeJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.IncJobOutcome(string(job.Kind), string(status))
	return job, nil
}

// ReopenStale returns jobs abandoned by a dead worker to pending, clearing
// the dead worker's claim. Running jobs heartbeat updated_at_ms through
// progress reports, so a reserved, downloading or processing row whose last
// write is older than the threshold has lost its worker. Progress and the
// status message reset with the claim; the re-run reports its own. It
// returns the reopened job ids.
func (js *JobStore) ReopenStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	rows, err := js.db.QueryContext(ctx, `
	UPDATE jobs SET status = 'pending', task_ref = '', started_at_ms = NULL,
		progress = 0, status_message = '', updated_at_ms = ?
	WHERE status IN ('reserved', 'downloading', 'processing') AND updated_at_ms < ?
	RETURNING id`, time.Now().UnixMilli(), cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for range ids {
		metrics.IncReservationReopened()
	}
	if len(ids) > 0 {
		js.log.Warn().Strs("job_ids", ids).Msg("reopened stale reservations")
	}
	return ids, nil
}

// ListOptions filters job listings.
type ListOptions struct {
	SongID        string
	ActiveOnly    bool
	SkipDismissed bool
	Limit         int
}

// List returns jobs newest first.
func (js *JobStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	if opts.SongID != "" {
		q += ` AND song_id = ?`
		args = append(args, opts.SongID)
	}
	if opts.ActiveOnly {
		q += ` AND status NOT IN ('completed', 'failed', 'cancelled')`
	}
	if opts.SkipDismissed {
		q += ` AND dismissed = 0`
	}
	q += ` ORDER BY created_at_ms DESC, id`
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := js.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Dismiss hides a terminal job from default listings.
func (js *JobStore) Dismiss(ctx context.Context, id string) error {
	job, err := js.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: only terminal jobs can be dismissed, job %s is %s", ErrBadTransition, id, job.Status)
	}
	_, err = js.db.ExecContext(ctx,
		`UPDATE jobs SET dismissed = 1, updated_at_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

// Summary counts jobs per status.
func (js *JobStore) Summary(ctx context.Context) (*StatusSummary, error) {
	rows, err := js.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sum StatusSummary
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch types.JobStatus(status) {
		case types.JobStatusPending:
			sum.Pending = n
		case types.JobStatusReserved:
			sum.Reserved = n
		case types.JobStatusDownloading:
			sum.Downloading = n
		case types.JobStatusProcessing:
			sum.Processing = n
		case types.JobStatusCancelling:
			sum.Cancelling = n
		case types.JobStatusCompleted:
			sum.Completed = n
		case types.JobStatusFailed:
			sum.Failed = n
		case types.JobStatusCancelled:
			sum.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	metrics.SetJobsPending(sum.Pending)
	return &sum, nil
}

// ReapTerminalBefore deletes terminal jobs that ended before the cutoff and
// returns how many were removed.
func (js *JobStore) ReapTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := js.db.ExecContext(ctx, `
	DELETE FROM jobs
	WHERE status IN ('completed', 'failed', 'cancelled') AND ended_at_ms < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsCancelling reports whether cancellation was requested for the job.
// Workers poll this between pipeline steps.
func (js *JobStore) IsCancelling(ctx context.Context, id string) (bool, error) {
	var status string
	err := js.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, err
	}
	s := types.JobStatus(status)
	return s == types.JobStatusCancelling || s == types.JobStatusCancelled, nil
}

func (js *JobStore) writeJob(ctx context.Context, tx *sql.Tx, job *Job) error {
	detailJSON, _ := json.Marshal(job.ErrorDetail)
	if job.ErrorDetail == nil {
		detailJSON = []byte("{}")
	}
	notesJSON, _ := json.Marshal(job.Notes)

	var started, ended any
	if job.StartedAt != nil {
		started = job.StartedAt.UnixMilli()
	}
	if job.EndedAt != nil {
		ended = job.EndedAt.UnixMilli()
	}

	now := time.Now().UnixMilli()
	job.UpdatedAt = time.UnixMilli(now).UTC()
	_, err := tx.ExecContext(ctx, `
	UPDATE jobs SET status = ?, progress = ?, status_message = ?, task_ref = ?,
		error_kind = ?, error_detail_json = ?, notes_json = ?,
		started_at_ms = ?, ended_at_ms = ?, updated_at_ms = ?
	WHERE id = ?`,
		string(job.Status), job.Progress, job.StatusMessage, job.TaskRef,
		string(job.ErrorKind), string(detailJSON), string(notesJSON),
		started, ended, now, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
