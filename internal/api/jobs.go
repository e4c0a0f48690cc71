// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/store"
)

type youtubeDownloadBody struct {
	SongID  string `json:"songId"`
	URL     string `json:"url"`
	VideoID string `json:"videoId"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Album   string `json:"album"`
}

// handleYouTubeDownload enqueues the fetch-and-separate job for an already
// created song. The song row must exist first; enqueueing never creates one.
func (s *Server) handleYouTubeDownload(w http.ResponseWriter, r *http.Request) {
	var body youtubeDownloadBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body", nil)
		return
	}
	if body.SongID == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams, "songId is required", nil)
		return
	}

	job, err := s.coord.EnqueueYouTubeJob(r.Context(), body.SongID)
	if err != nil {
		// A missing song is a caller mistake on this endpoint, not a lookup.
		if errors.Is(err, store.ErrNotFound) {
			writeErrorCode(w, http.StatusBadRequest, codeNotFound,
				"song "+body.SongID+" does not exist", nil)
			return
		}
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := jobstore.ListOptions{
		SongID:        q.Get("song_id"),
		ActiveOnly:    q.Get("active") == "true",
		SkipDismissed: q.Get("include_dismissed") != "true",
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}

	jobs, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobsStatusResponse carries the per-status counts plus the jobs a worker
// currently owns or will own.
type jobsStatusResponse struct {
	jobstore.StatusSummary
	Active []*jobstore.Job `json:"active"`
}

func (s *Server) handleJobsStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.jobs.Summary(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	active, err := s.jobs.List(r.Context(), jobstore.ListOptions{ActiveOnly: true})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsStatusResponse{StatusSummary: *summary, Active: active})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDismissJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
