// SPDX-License-Identifier: MIT

// Package push exposes the live event fabric over websockets. Two logical
// channels exist: jobs streams job lifecycle events, performance streams the
// session controls and accepts client commands. Commands never mutate state
// here; they are handed to the coordinator and the authoritative result comes
// back over the bus, to the sender like everyone else.
package push

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/coordinator"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
)

// Channel names.
const (
	ChannelJobs        = "jobs"
	ChannelPerformance = "performance"
)

// Options tunes the hub. Zero values fall back to the defaults below.
type Options struct {
	// Origins allowed to upgrade. Empty admits every origin; otherwise the
	// Origin header must match one entry exactly, with "*" as a wildcard.
	Origins []string

	// Heartbeat is the server ping interval.
	Heartbeat time.Duration

	// IdleTimeout is how long a connection may go without a pong before it
	// is considered dead. Must exceed Heartbeat.
	IdleTimeout time.Duration
}

// Hub upgrades connections and tracks live sessions for shutdown.
type Hub struct {
	coord     *coordinator.Coordinator
	jobs      *jobstore.JobStore
	bus       *bus.Bus
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	idle      time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewHub builds a hub.
func NewHub(coord *coordinator.Coordinator, jobs *jobstore.JobStore, b *bus.Bus, opts Options) *Hub {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.IdleTimeout <= opts.Heartbeat {
		opts.IdleTimeout = defaultIdleTimeout
	}
	h := &Hub{
		coord:     coord,
		jobs:      jobs,
		bus:       b,
		heartbeat: opts.Heartbeat,
		idle:      opts.IdleTimeout,
		sessions:  map[*session]struct{}{},
		log:       log.WithComponent("push"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.Origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := map[string]bool{}
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return wildcard || origin == "" || allowed[origin]
	}
}

// HandleJobs upgrades a jobs-channel connection.
func (h *Hub) HandleJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, ChannelJobs)
	}
}

// HandlePerformance upgrades a performance-channel connection.
func (h *Hub) HandlePerformance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, ChannelPerformance)
	}
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn().Err(err).Str(log.FieldChannel, channel).Msg("websocket upgrade failed")
		return
	}

	s := newSession(h, conn, channel)
	if !h.add(s) {
		_ = conn.Close()
		return
	}
	s.run(r.Context())
	h.remove(s)
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Close terminates every live session. Handlers return once their session
// unwinds; the caller stops accepting upgrades by shutting the HTTP server.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
