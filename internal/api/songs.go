// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openkaraoke/studio/internal/coordinator"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/store"
)

func listOptions(r *http.Request) store.ListOptions {
	q := r.URL.Query()
	opts := store.ListOptions{
		SortBy:    q.Get("sort_by"),
		Direction: q.Get("direction"),
	}
	if opts.SortBy == "" {
		opts.SortBy = q.Get("sort")
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	return opts
}

func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListSongs(r.Context(), listOptions(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSearchSongs(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams, "query parameter q is required", nil)
		return
	}

	page, err := s.store.SearchSongs(r.Context(), q, listOptions(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	if r.URL.Query().Get("group_by_artist") == "true" {
		grouped := map[string][]*store.Song{}
		for _, song := range page.Items {
			grouped[song.Artist] = append(grouped[song.Artist], song)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"groups": grouped,
			"total":  page.Total,
		})
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListArtists(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	page, err := s.store.ListArtists(r.Context(), r.URL.Query().Get("search"), opts.Offset, opts.Limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSongsByArtist(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "artistName")
	page, err := s.store.ListSongsByArtist(r.Context(), name, listOptions(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	song, err := s.store.GetSong(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (s *Server) handleCreateSong(w http.ResponseWriter, r *http.Request) {
	var in coordinator.CreateSongInput
	if err := decodeJSON(r, &in); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body", nil)
		return
	}
	if in.Title == "" || in.Artist == "" || in.Source == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams,
			"title, artist and source are required", nil)
		return
	}

	song, _, err := s.coord.CreateSong(r.Context(), in)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

type songPatchBody struct {
	Title      *string `json:"title"`
	Artist     *string `json:"artist"`
	Album      *string `json:"album"`
	Genre      *string `json:"genre"`
	Language   *string `json:"language"`
	Year       *int    `json:"year"`
	DurationMs *int64  `json:"durationMs"`
	Favorite   *bool   `json:"favorite"`
}

func (s *Server) handlePatchSong(w http.ResponseWriter, r *http.Request) {
	var body songPatchBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body", nil)
		return
	}

	song, err := s.store.UpdateSong(r.Context(), chi.URLParam(r, "id"), store.SongPatch{
		Title:      body.Title,
		Artist:     body.Artist,
		Album:      body.Album,
		Genre:      body.Genre,
		Language:   body.Language,
		Year:       body.Year,
		DurationMs: body.DurationMs,
		Favorite:   body.Favorite,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteSong(r.Context(), id); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := s.lib.RemoveSong(id); err != nil {
		s.log.Warn().Err(err).Str(log.FieldSongID, id).Msg("removing song files failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadAudio ingests the audio for an upload-sourced song and enqueues
// its processing job. Multipart bodies use the "file" field; raw bodies are
// taken as-is.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	audio := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, codeMissingParams,
				"multipart field file is required", nil)
			return
		}
		defer func() { _ = file.Close() }()
		audio = file
	}

	job, err := s.coord.EnqueueUploadJob(r.Context(), id, audio)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}
