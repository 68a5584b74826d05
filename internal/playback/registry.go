/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/broadcast"
	"github.com/friendsincode/skald/internal/session"
)

// AnnounceFunc delivers a now-playing announcement for a community.
type AnnounceFunc func(communityID string, track session.Track)

// Registry lazily creates the one controller each community owns, wired to
// the community's session, the event broadcaster, and the announcement
// callback.
type Registry struct {
	sessions  *session.Registry
	newSource SourceFactory
	events    *broadcast.Broadcaster
	announce  AnnounceFunc
	logger    zerolog.Logger

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty controller registry.
func NewRegistry(sessions *session.Registry, factory SourceFactory, events *broadcast.Broadcaster, announce AnnounceFunc, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:    sessions,
		newSource:   factory,
		events:      events,
		announce:    announce,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// ForCommunity returns the community's controller, creating it on first
// use.
func (r *Registry) ForCommunity(communityID string) *Controller {
	r.mu.RLock()
	if c, ok := r.controllers[communityID]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[communityID]; ok {
		return c
	}

	hooks := Hooks{}
	if r.events != nil {
		events := r.events
		id := communityID
		hooks.Publish = func(event broadcast.EventType, data broadcast.Payload) {
			events.Publish(id, broadcast.NewEnvelope(event, data))
		}
	}
	if r.announce != nil {
		announce := r.announce
		id := communityID
		hooks.Announce = func(track session.Track) {
			announce(id, track)
		}
	}

	c := NewController(communityID, r.sessions.ForCommunity(communityID), r.newSource, hooks, r.logger)
	r.controllers[communityID] = c
	return c
}

// Peek returns the community's controller without creating one.
func (r *Registry) Peek(communityID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[communityID]
	return c, ok
}
