// SPDX-License-Identifier: MIT

package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/coordinator"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/metrics"
	"github.com/openkaraoke/studio/internal/types"
)

const (
	defaultHeartbeat   = 20 * time.Second
	defaultIdleTimeout = 60 * time.Second

	writeWait = 10 * time.Second

	// snapshotLimit bounds the job list sent on connect and resync.
	snapshotLimit = 100

	sendBuffer = 32
)

// Frame is the wire unit in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type session struct {
	id      string
	channel string
	hub     *Hub
	conn    *websocket.Conn
	sub     *bus.Subscription
	send    chan outFrame
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

func newSession(h *Hub, conn *websocket.Conn, channel string) *session {
	id := uuid.NewString()
	return &session{
		id:      id,
		channel: channel,
		hub:     h,
		conn:    conn,
		send:    make(chan outFrame, sendBuffer),
		done:    make(chan struct{}),
		log: h.log.With().
			Str(log.FieldSessionID, id).
			Str(log.FieldChannel, channel).
			Logger(),
	}
}

// run blocks until the client disconnects, the hub closes, or a write fails.
func (s *session) run(ctx context.Context) {
	metrics.PushSessionOpened(s.channel)
	defer metrics.PushSessionClosed(s.channel)
	defer func() { _ = s.conn.Close() }()

	// Subscribe before the snapshot so no event falls in between.
	switch s.channel {
	case ChannelJobs:
		s.sub = s.hub.bus.Subscribe("job.*")
	case ChannelPerformance:
		s.sub = s.hub.bus.Subscribe(bus.TopicPerformance)
	}
	defer s.sub.Close()

	s.log.Debug().Msg("session opened")
	s.snapshot(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer wg.Done()
		s.forwardLoop(ctx)
	}()

	s.readLoop()
	s.close()
	wg.Wait()
	s.log.Debug().Msg("session closed")
}

// close tears the session down from any goroutine. Closing the conn unblocks
// the read loop; closing done unblocks the write and forward loops.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

// enqueue hands a frame to the write loop; a session that is going away
// swallows it.
func (s *session) enqueue(f outFrame) {
	select {
	case s.send <- f:
	case <-s.done:
	}
}

func (s *session) snapshot(ctx context.Context) {
	switch s.channel {
	case ChannelJobs:
		jobs, err := s.hub.jobs.List(ctx, jobstore.ListOptions{
			SkipDismissed: true,
			Limit:         snapshotLimit,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("job snapshot failed")
			return
		}
		s.enqueue(outFrame{Type: "snapshot", Payload: jobs})
	case ChannelPerformance:
		s.enqueue(outFrame{Type: "state", Payload: s.hub.coord.PerformanceSnapshot()})
	}
}

// forwardLoop translates bus events into frames. A loss marker means this
// subscriber overflowed; the client gets a resync directive and a fresh
// snapshot so it can rebuild its view.
func (s *session) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.sub.C():
			if !ok {
				s.close()
				return
			}
			if ev.IsLossMarker() {
				metrics.IncPushResync(s.channel)
				s.enqueue(outFrame{Type: "resync"})
				s.snapshot(ctx)
				continue
			}
			if f, ok := s.translate(ev); ok {
				s.enqueue(f)
			}
		}
	}
}

func (s *session) translate(ev bus.Event) (outFrame, bool) {
	switch s.channel {
	case ChannelJobs:
		job, ok := ev.Payload.(*jobstore.Job)
		if !ok {
			return outFrame{}, false
		}
		switch ev.Topic {
		case bus.TopicJobCreated:
			return outFrame{Type: "job_created", Payload: job}, true
		case bus.TopicJobUpdated:
			return outFrame{Type: "job_updated", Payload: job}, true
		case bus.TopicJobFinished:
			switch job.Status {
			case types.JobStatusCompleted:
				return outFrame{Type: "job_completed", Payload: job}, true
			case types.JobStatusFailed:
				return outFrame{Type: "job_failed", Payload: job}, true
			case types.JobStatusCancelled:
				return outFrame{Type: "job_cancelled", Payload: job}, true
			}
		}
	case ChannelPerformance:
		pe, ok := ev.Payload.(*coordinator.PerformanceEvent)
		if !ok {
			return outFrame{}, false
		}
		switch pe.Kind {
		case "changed":
			return outFrame{Type: "changed", Payload: pe.Changed}, true
		case "playback_play", "playback_pause":
			return outFrame{Type: pe.Kind}, true
		case "playback_seek":
			return outFrame{Type: "playback_seek", Payload: map[string]int64{
				"positionMs": pe.State.PositionMs,
			}}, true
		}
	}
	return outFrame{}, false
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.hub.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.close()
				return
			}
			metrics.IncPushFrame(s.channel, f.Type)
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// readLoop consumes client frames until the connection dies. Only the
// performance channel carries commands; anything else is drained for
// keepalive bookkeeping.
func (s *session) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.hub.idle))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.hub.idle))
	})
	s.conn.SetReadLimit(16 * 1024)

	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return
		}
		if s.channel == ChannelPerformance {
			s.handleCommand(f)
		}
	}
}

func (s *session) handleCommand(f Frame) {
	var err error
	switch f.Type {
	case "update_control":
		var patch coordinator.ControlPatch
		if err = json.Unmarshal(f.Payload, &patch); err == nil {
			_, err = s.hub.coord.UpdatePerformanceControl(patch)
		}
	case "play":
		s.hub.coord.Play()
	case "pause":
		s.hub.coord.Pause()
	case "seek":
		var p struct {
			PositionMs int64 `json:"positionMs"`
		}
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			_, err = s.hub.coord.SeekTo(p.PositionMs)
		}
	default:
		s.log.Warn().Str("type", f.Type).Msg("unknown command ignored")
		return
	}

	if err != nil {
		s.log.Warn().Err(err).Str("type", f.Type).Msg("command rejected")
		s.enqueue(outFrame{Type: "error", Payload: map[string]string{
			"command": f.Type,
			"message": err.Error(),
		}})
	}
}
