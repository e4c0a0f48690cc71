// SPDX-License-Identifier: MIT

// Package api exposes the library, jobs, queue and provider proxies as a JSON
// API under /api, plus the websocket push endpoints and operational probes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/coordinator"
	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/metrics"
	"github.com/openkaraoke/studio/internal/pipeline"
	"github.com/openkaraoke/studio/internal/push"
	"github.com/openkaraoke/studio/internal/store"
)

// Options carries the server's collaborators and tuning.
type Options struct {
	Store    *store.Store
	Jobs     *jobstore.JobStore
	Coord    *coordinator.Coordinator
	Library  *fsutil.Library
	Hub      *push.Hub
	Metadata pipeline.MetadataProvider
	Lyrics   pipeline.LyricsProvider

	CORSOrigins []string

	// ProviderTimeout bounds the provider proxy endpoints.
	ProviderTimeout time.Duration
}

// Server is the HTTP surface of the service.
type Server struct {
	store    *store.Store
	jobs     *jobstore.JobStore
	coord    *coordinator.Coordinator
	lib      *fsutil.Library
	hub      *push.Hub
	metadata pipeline.MetadataProvider
	lyrics   pipeline.LyricsProvider

	cors            []string
	providerTimeout time.Duration
	log             zerolog.Logger
}

// New builds a server.
func New(opts Options) *Server {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 15 * time.Second
	}
	return &Server{
		store:           opts.Store,
		jobs:            opts.Jobs,
		coord:           opts.Coord,
		lib:             opts.Library,
		hub:             opts.Hub,
		metadata:        opts.Metadata,
		lyrics:          opts.Lyrics,
		cors:            opts.CORSOrigins,
		providerTimeout: opts.ProviderTimeout,
		log:             log.WithComponent("api"),
	}
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(log.Middleware())
	r.Use(metrics.HTTPMiddleware(routePattern))
	r.Use(corsMiddleware(s.cors))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.hub != nil {
		r.Get("/ws/jobs", s.hub.HandleJobs())
		r.Get("/ws/performance", s.hub.HandlePerformance())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/songs", func(r chi.Router) {
			r.Get("/", s.handleListSongs)
			r.Post("/", s.handleCreateSong)
			r.Get("/search", s.handleSearchSongs)
			r.Get("/artists", s.handleListArtists)
			r.Get("/by-artist/{artistName}", s.handleSongsByArtist)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSong)
				r.Patch("/", s.handlePatchSong)
				r.Delete("/", s.handleDeleteSong)
				r.Post("/upload", s.handleUploadAudio)
				r.Get("/download/{stem}", s.handleDownloadStem)
				r.Get("/thumbnail", s.handleThumbnail)
				r.Get("/thumbnail.{ext}", s.handleThumbnail)
				r.Get("/cover.jpg", s.handleCover)
			})
		})

		r.Route("/lyrics", func(r chi.Router) {
			r.With(expensiveRateLimit(30, time.Minute)).Get("/search", s.handleLyricsSearch)
			r.Get("/{songId}", s.handleGetLyrics)
			r.Post("/{songId}", s.handleSetLyrics)
		})

		r.With(expensiveRateLimit(30, time.Minute)).
			Get("/metadata/search", s.handleMetadataSearch)

		r.With(expensiveRateLimit(10, time.Minute)).
			Post("/youtube/download", s.handleYouTubeDownload)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/status", s.handleJobsStatus)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
			r.Post("/{id}/dismiss", s.handleDismissJob)
		})

		r.Route("/karaoke-queue", func(r chi.Router) {
			r.Get("/", s.handleListQueue)
			r.Post("/", s.handleAddToQueue)
			r.Put("/reorder", s.handleReorderQueue)
			r.Post("/advance", s.handleAdvanceQueue)
			r.Delete("/{entryId}", s.handleRemoveFromQueue)
		})
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeErrorCode(w, http.StatusServiceUnavailable, codeUnavailable, "store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
