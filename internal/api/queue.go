// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.coord.ListQueue(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

type addToQueueBody struct {
	SongID     string `json:"songId"`
	SingerName string `json:"singerName"`
}

func (s *Server) handleAddToQueue(w http.ResponseWriter, r *http.Request) {
	var body addToQueueBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body", nil)
		return
	}
	if body.SongID == "" || body.SingerName == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams,
			"songId and singerName are required", nil)
		return
	}

	entry, err := s.coord.AddToQueue(r.Context(), body.SongID, body.SingerName)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryId"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "entryId must be an integer", nil)
		return
	}
	if err := s.coord.RemoveFromQueue(r.Context(), entryID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderBody struct {
	EntryIDs []int64 `json:"entryIds"`
}

func (s *Server) handleReorderQueue(w http.ResponseWriter, r *http.Request) {
	var body reorderBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body", nil)
		return
	}
	if err := s.coord.ReorderQueue(r.Context(), body.EntryIDs); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	entries, err := s.coord.ListQueue(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

func (s *Server) handleAdvanceQueue(w http.ResponseWriter, r *http.Request) {
	entry, err := s.coord.AdvanceQueue(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playing": entry})
}
