/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"sync"

	"github.com/friendsincode/skald/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
	EventTrackStarted   EventType = "track_started"
	EventTrackEnded     EventType = "track_ended"
	EventQueueUpdate    EventType = "queue_update"
	EventNowPlaying     EventType = "now_playing"
)

// SchemaVersion identifies the envelope wire shape.
const SchemaVersion = "1.0"

// Payload generic event payload.
type Payload map[string]any

// Envelope is the versioned shape delivered to subscribers.
type Envelope struct {
	SchemaVersion string    `json:"schema_version"`
	EventType     EventType `json:"event_type"`
	Data          Payload   `json:"data"`
}

// NewEnvelope wraps a payload in the current schema version.
func NewEnvelope(eventType EventType, data Payload) Envelope {
	if data == nil {
		data = Payload{}
	}
	return Envelope{SchemaVersion: SchemaVersion, EventType: eventType, Data: data}
}

// Subscription is a scoped handle on one subscriber queue.
type Subscription struct {
	sessionID string
	ch        chan Envelope
	b         *Broadcaster
	once      sync.Once
}

// Events returns the subscriber queue. The channel is closed by Close.
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// Close deregisters the queue. The session's fan-out entry is removed once
// its last queue is gone.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s.sessionID, s.ch)
	})
}

// Broadcaster fans events out to bounded per-session subscriber queues.
// A full queue evicts its oldest buffered event rather than blocking the
// publisher.
type Broadcaster struct {
	mu       sync.Mutex
	capacity int
	subs     map[string][]chan Envelope
}

// New creates a broadcaster with the given per-subscriber queue capacity.
func New(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = 100
	}
	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[string][]chan Envelope),
	}
}

// Subscribe registers a subscriber queue under sessionID.
func (b *Broadcaster) Subscribe(sessionID string) *Subscription {
	ch := make(chan Envelope, b.capacity)
	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	b.mu.Unlock()
	return &Subscription{sessionID: sessionID, ch: ch, b: b}
}

func (b *Broadcaster) unsubscribe(sessionID string, ch chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sessionID]
	for i, candidate := range subs {
		if candidate == ch {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, sessionID)
	} else {
		b.subs[sessionID] = subs
	}
	close(ch)
}

// Publish delivers the envelope to every subscriber of sessionID without
// blocking. A slow subscriber loses its oldest buffered event first; if a
// concurrent reader wins both races the new event is dropped for that
// subscriber only.
func (b *Broadcaster) Publish(sessionID string, env Envelope) {
	// Sends stay under the lock so a queue cannot be closed mid-publish.
	// Every channel op below is non-blocking, keeping the hold time bounded.
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- env:
			continue
		default:
		}

		select {
		case evicted := <-ch:
			telemetry.EventsDroppedTotal.WithLabelValues(string(evicted.EventType)).Inc()
		default:
		}

		select {
		case ch <- env:
		default:
			telemetry.EventsDroppedTotal.WithLabelValues(string(env.EventType)).Inc()
		}
	}

	telemetry.EventsPublishedTotal.WithLabelValues(string(env.EventType)).Inc()
}

// SubscriberCount reports the number of live queues for a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
