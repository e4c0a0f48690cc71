// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/store"
)

// stemKeys maps the download segment to the path-mapping key.
var stemKeys = map[string]string{
	"vocals":       store.PathVocals,
	"instrumental": store.PathInstrumental,
	"original":     store.PathOriginal,
}

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".png":  "image/png",
}

// handleDownloadStem streams one audio artifact. The song's path mapping is
// the readiness gate: a file not referenced there does not exist for clients,
// even if a partial write is on disk.
func (s *Server) handleDownloadStem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stem := chi.URLParam(r, "stem")

	pathKey, ok := stemKeys[stem]
	if !ok {
		writeErrorCode(w, http.StatusBadRequest, codeValidation,
			"stem must be vocals, instrumental or original", nil)
		return
	}

	song, err := s.store.GetSong(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	fileKey := song.Paths[pathKey]
	if fileKey == "" {
		writeErrorCode(w, http.StatusNotFound, codeNotFound,
			fmt.Sprintf("%s track is not ready", stem), nil)
		return
	}

	s.serveLibraryFile(w, r, id, fileKey, "audio/mpeg",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s - %s (%s).mp3", song.Artist, song.Title, stem)))
}

// handleThumbnail serves the song's thumbnail. An explicit extension narrows
// the format; without one the stored format is served.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	song, err := s.store.GetSong(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	fileKey := song.Paths[store.PathThumbnail]
	if fileKey == "" {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "song has no thumbnail", nil)
		return
	}

	if ext := chi.URLParam(r, "ext"); ext != "" {
		want := "thumbnail." + ext
		if _, ok := imageContentTypes[path.Ext(want)]; !ok {
			writeErrorCode(w, http.StatusBadRequest, codeValidation,
				"thumbnail extension must be jpg, webp or png", nil)
			return
		}
		// Serve the requested variant when it exists, else fall back to the
		// stored format.
		if resolved, err := s.lib.Resolve(id, want); err == nil && fsutil.Exists(resolved) {
			fileKey = want
		}
	}

	s.serveLibraryFile(w, r, id, fileKey, imageContentTypes[path.Ext(fileKey)], "")
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	song, err := s.store.GetSong(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	fileKey := song.Paths[store.PathCover]
	if fileKey == "" {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "song has no cover art", nil)
		return
	}
	s.serveLibraryFile(w, r, id, fileKey, "image/jpeg", "")
}

func (s *Server) serveLibraryFile(w http.ResponseWriter, r *http.Request, songID, fileKey, contentType, disposition string) {
	resolved, err := s.lib.Resolve(songID, fileKey)
	if err != nil {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "file not found", nil)
		return
	}
	f, err := os.Open(resolved)
	if err != nil {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "file not found", nil)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "file not found", nil)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	http.ServeContent(w, r, fileKey, info.ModTime(), f)
}
