// SPDX-License-Identifier: MIT

package coordinator

import (
	"fmt"
	"sync"

	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/store"
)

// Lyrics display sizes accepted by the performance controls.
const (
	LyricsSizeSmall  = "small"
	LyricsSizeMedium = "medium"
	LyricsSizeLarge  = "large"
)

// PerformanceState is the process-wide live session record. There is exactly
// one; clients never mutate it directly, only through the coordinator.
type PerformanceState struct {
	VocalVolume        float64 `json:"vocalVolume"`
	InstrumentalVolume float64 `json:"instrumentalVolume"`
	LyricsSize         string  `json:"lyricsSize"`
	LyricsOffsetMs     int     `json:"lyricsOffsetMs"`
	IsPlaying          bool    `json:"isPlaying"`
	PositionMs         int64   `json:"positionMs"`
	CurrentEntryID     *int64  `json:"currentEntryId"`
}

// ControlPatch is a partial update of the mixer controls; nil fields are left
// untouched.
type ControlPatch struct {
	VocalVolume        *float64 `json:"vocalVolume,omitempty"`
	InstrumentalVolume *float64 `json:"instrumentalVolume,omitempty"`
	LyricsSize         *string  `json:"lyricsSize,omitempty"`
	LyricsOffsetMs     *int     `json:"lyricsOffsetMs,omitempty"`
}

// PerformanceEvent is the payload on the performance topic. Kind is one of
// changed, playback_play, playback_pause, playback_seek; Changed carries the
// fields a control patch touched.
type PerformanceEvent struct {
	Kind    string           `json:"kind"`
	State   PerformanceState `json:"state"`
	Changed map[string]any   `json:"changed,omitempty"`
}

type performanceState struct {
	mu    sync.Mutex
	state PerformanceState
}

func newPerformanceState() *performanceState {
	return &performanceState{state: PerformanceState{
		VocalVolume:        0.5,
		InstrumentalVolume: 1.0,
		LyricsSize:         LyricsSizeMedium,
	}}
}

func (p *performanceState) snapshot() PerformanceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *performanceState) apply(patch ControlPatch) (PerformanceState, map[string]any, error) {
	if err := patch.validate(); err != nil {
		return PerformanceState{}, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	changed := map[string]any{}
	if patch.VocalVolume != nil {
		p.state.VocalVolume = *patch.VocalVolume
		changed["vocalVolume"] = *patch.VocalVolume
	}
	if patch.InstrumentalVolume != nil {
		p.state.InstrumentalVolume = *patch.InstrumentalVolume
		changed["instrumentalVolume"] = *patch.InstrumentalVolume
	}
	if patch.LyricsSize != nil {
		p.state.LyricsSize = *patch.LyricsSize
		changed["lyricsSize"] = *patch.LyricsSize
	}
	if patch.LyricsOffsetMs != nil {
		p.state.LyricsOffsetMs = *patch.LyricsOffsetMs
		changed["lyricsOffsetMs"] = *patch.LyricsOffsetMs
	}
	return p.state, changed, nil
}

func (p *performanceState) setPlaying(playing bool) PerformanceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.IsPlaying = playing
	return p.state
}

func (p *performanceState) seek(positionMs int64) (PerformanceState, error) {
	if positionMs < 0 {
		return PerformanceState{}, fmt.Errorf("%w: positionMs must not be negative", store.ErrInvalid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.PositionMs = positionMs
	return p.state, nil
}

// setCurrentEntry tracks the queue rotation; position restarts at zero for a
// new entry.
func (p *performanceState) setCurrentEntry(entry *store.QueueEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry == nil {
		p.state.CurrentEntryID = nil
		p.state.IsPlaying = false
	} else {
		id := entry.EntryID
		p.state.CurrentEntryID = &id
	}
	p.state.PositionMs = 0
}

func (patch ControlPatch) validate() error {
	if patch.VocalVolume != nil && (*patch.VocalVolume < 0 || *patch.VocalVolume > 1) {
		return fmt.Errorf("%w: vocalVolume must be within [0, 1]", store.ErrInvalid)
	}
	if patch.InstrumentalVolume != nil && (*patch.InstrumentalVolume < 0 || *patch.InstrumentalVolume > 1) {
		return fmt.Errorf("%w: instrumentalVolume must be within [0, 1]", store.ErrInvalid)
	}
	if patch.LyricsSize != nil {
		switch *patch.LyricsSize {
		case LyricsSizeSmall, LyricsSizeMedium, LyricsSizeLarge:
		default:
			return fmt.Errorf("%w: lyricsSize must be small, medium or large", store.ErrInvalid)
		}
	}
	return nil
}

// PerformanceSnapshot returns the current state for new sessions.
func (c *Coordinator) PerformanceSnapshot() PerformanceState {
	return c.perf.snapshot()
}

// UpdatePerformanceControl applies a validated control patch and broadcasts
// the authoritative state to every performance subscriber, the caller
// included.
func (c *Coordinator) UpdatePerformanceControl(patch ControlPatch) (PerformanceState, error) {
	state, changed, err := c.perf.apply(patch)
	if err != nil {
		return PerformanceState{}, err
	}
	if len(changed) > 0 {
		c.bus.Publish(bus.TopicPerformance, &PerformanceEvent{Kind: "changed", State: state, Changed: changed})
	}
	return state, nil
}

// Play starts playback.
func (c *Coordinator) Play() PerformanceState {
	state := c.perf.setPlaying(true)
	c.bus.Publish(bus.TopicPerformance, &PerformanceEvent{Kind: "playback_play", State: state})
	return state
}

// Pause stops playback without losing the position.
func (c *Coordinator) Pause() PerformanceState {
	state := c.perf.setPlaying(false)
	c.bus.Publish(bus.TopicPerformance, &PerformanceEvent{Kind: "playback_pause", State: state})
	return state
}

// SeekTo moves the playback position.
func (c *Coordinator) SeekTo(positionMs int64) (PerformanceState, error) {
	state, err := c.perf.seek(positionMs)
	if err != nil {
		return PerformanceState{}, err
	}
	c.bus.Publish(bus.TopicPerformance, &PerformanceEvent{Kind: "playback_seek", State: state})
	return state, nil
}

func (c *Coordinator) publishPerformance(kind string, changed map[string]any) {
	c.bus.Publish(bus.TopicPerformance, &PerformanceEvent{
		Kind:    kind,
		State:   c.perf.snapshot(),
		Changed: changed,
	})
}
