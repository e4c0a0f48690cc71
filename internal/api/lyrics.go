// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openkaraoke/studio/internal/providers/lyrics"
	"github.com/openkaraoke/studio/internal/store"
)

func (s *Server) handleGetLyrics(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.GetLyrics(r.Context(), chi.URLParam(r, "songId"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type lyricsBody struct {
	PlainText    string `json:"plainText"`
	SyncedText   string `json:"syncedText"`
	LanguageCode string `json:"languageCode"`
	Source       string `json:"source"`
}

func (s *Server) handleSetLyrics(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songId")

	var body lyricsBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body", nil)
		return
	}
	if body.PlainText == "" && body.SyncedText == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams,
			"plainText or syncedText is required", nil)
		return
	}
	if body.SyncedText != "" {
		if err := lyrics.ValidateLRC(body.SyncedText); err != nil {
			writeErrorCode(w, http.StatusUnprocessableEntity, codeValidation,
				"syncedText is not valid LRC: "+err.Error(), nil)
			return
		}
	}

	song, err := s.store.GetSong(r.Context(), songID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	source := body.Source
	if source == "" {
		source = "manual"
	}
	l := &store.Lyrics{
		SongID:         songID,
		PlainText:      body.PlainText,
		SyncedText:     body.SyncedText,
		LanguageCode:   body.LanguageCode,
		Source:         source,
		DurationHintMs: song.DurationMs,
	}
	if err := s.store.SetLyrics(r.Context(), l); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) providerContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.providerTimeout)
}

func (s *Server) handleLyricsSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	artist := strings.TrimSpace(q.Get("artist"))
	title := strings.TrimSpace(q.Get("title"))
	if artist == "" || title == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams,
			"artist and title are required", nil)
		return
	}

	ctx, cancel := s.providerContext(r)
	defer cancel()

	candidates, err := s.lyrics.Search(ctx, artist, title, strings.TrimSpace(q.Get("album")))
	if err != nil {
		writeUpstreamError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": candidates})
}

func (s *Server) handleMetadataSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	artist := strings.TrimSpace(q.Get("artist"))
	title := strings.TrimSpace(q.Get("title"))
	if artist == "" || title == "" {
		writeErrorCode(w, http.StatusBadRequest, codeMissingParams,
			"artist and title are required", nil)
		return
	}

	ctx, cancel := s.providerContext(r)
	defer cancel()

	tracks, err := s.metadata.Search(ctx, artist, title)
	if err != nil {
		writeUpstreamError(r.Context(), w, err)
		return
	}

	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v < len(tracks) {
		tracks = tracks[:v]
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": tracks})
}
