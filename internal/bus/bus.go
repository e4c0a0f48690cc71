// SPDX-License-Identifier: MIT

// Package bus is the in-process event fabric between the coordinator, the
// dispatcher and the push hub. Publishing never blocks: each subscriber has
// a bounded buffer, and when a slow consumer overflows it the oldest events
// are dropped and a loss marker is queued so the consumer knows to resync
// from the store.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/metrics"
)

const dropLogEvery = 100

var dropCount atomic.Uint64

// Topics. Subscribers match on exact topic, on a "job.*" style prefix
// pattern, or on "*" for everything.
const (
	TopicJobCreated   = "job.created"
	TopicJobUpdated   = "job.updated"
	TopicJobFinished  = "job.finished"
	TopicQueueChanged = "queue.changed"
	TopicPerformance  = "performance.updated"

	// TopicLoss is the synthetic topic of loss markers.
	TopicLoss = "bus.loss"
)

// Event is one published message.
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

// IsLossMarker reports whether the event signals dropped predecessors.
func (e Event) IsLossMarker() bool { return e.Topic == TopicLoss }

const subscriberBuffer = 64

// Bus fans events out to pattern subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers the event to every matching subscriber and returns
// immediately. Events from a single publisher goroutine are observed in
// publish order by every subscriber.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	metrics.IncBusPublished(topic)
	for sub := range b.subs {
		if sub.matches(topic) {
			sub.enqueue(ev)
		}
	}
}

// Subscribe registers a consumer for the topic pattern. The returned
// subscription must be closed when the consumer is done.
func (b *Bus) Subscribe(pattern string) *Subscription {
	sub := &Subscription{
		bus:     b,
		pattern: pattern,
		out:     make(chan Event),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closeOnce.Do(func() { close(sub.stop) })
		close(sub.out)
		close(sub.done)
		return sub
	}
	b.subs[sub] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetBusSubscribers(n)
	go sub.pump()
	return sub
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	metrics.SetBusSubscribers(0)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetBusSubscribers(n)
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	bus     *Bus
	pattern string

	mu      sync.Mutex
	buf     []Event
	lost    bool
	stopped bool

	out  chan Event
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// C is the receive channel. It is closed when the subscription closes.
func (s *Subscription) C() <-chan Event { return s.out }

// Close detaches the subscription from the bus and stops delivery.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *Subscription) matches(topic string) bool {
	switch {
	case s.pattern == "*":
		return true
	case strings.HasSuffix(s.pattern, ".*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(s.pattern, "*"))
	default:
		return s.pattern == topic
	}
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= subscriberBuffer {
		// Drop the oldest event and remember the gap.
		s.buf = s.buf[1:]
		s.lost = true
		metrics.IncBusDropped(ev.Topic, "overflow")
		if n := dropCount.Add(1); n%dropLogEvery == 0 {
			logger := log.L()
			logger.Warn().Str(log.FieldTopic, ev.Topic).Uint64("dropped", n).
				Msg("slow subscriber, dropping oldest events")
		}
	}
	s.buf = append(s.buf, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves buffered events to the out channel, injecting a loss marker
// ahead of the first event that follows a gap.
func (s *Subscription) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.buf) == 0 && !s.lost {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
			continue
		}
		var ev Event
		if s.lost {
			ev = Event{Topic: TopicLoss, At: time.Now().UTC()}
			s.lost = false
		} else {
			ev = s.buf[0]
			s.buf = s.buf[1:]
		}
		s.mu.Unlock()

		// Delivery blocks only this subscriber; the publisher already
		// returned.
		select {
		case s.out <- ev:
		case <-s.stop:
			return
		}
	}
}
