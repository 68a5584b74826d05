/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/broadcast"
	"github.com/friendsincode/skald/internal/session"
	"github.com/friendsincode/skald/internal/telemetry"
)

// Hooks are the controller's outward notifications. Both are optional.
type Hooks struct {
	// Announce fires after continuation starts a new track.
	Announce func(track session.Track)

	// Publish fans a playback state change out to event subscribers.
	Publish func(event broadcast.EventType, data broadcast.Payload)
}

// Controller owns playback for one community. Every transition runs under
// its mutex, so only one of play/stop/skip is in flight at a time. The
// controller tracks the source it last started; completion callbacks from
// replaced sources are recognized by identity and dropped.
type Controller struct {
	communityID string
	session     *session.Session
	newSource   SourceFactory
	hooks       Hooks
	logger      zerolog.Logger

	mu      sync.Mutex
	current Source
}

// NewController creates a controller bound to a community's session.
func NewController(communityID string, sess *session.Session, factory SourceFactory, hooks Hooks, logger zerolog.Logger) *Controller {
	return &Controller{
		communityID: communityID,
		session:     sess,
		newSource:   factory,
		hooks:       hooks,
		logger:      logger.With().Str("component", "playback").Str("community_id", communityID).Logger(),
	}
}

// Session returns the community session the controller drives.
func (c *Controller) Session() *session.Session {
	return c.session
}

// PlayNext pops the next queued track and starts delivering it. It is a
// no-op returning nil when the connection already reports active playback
// or the queue is empty. A track whose URL fails validation is logged and
// dropped without error.
func (c *Controller) PlayNext(conn Connection) (*session.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playNextLocked(conn)
}

func (c *Controller) playNextLocked(conn Connection) (*session.Track, error) {
	if conn.IsActive() {
		return nil, nil
	}

	track, ok := c.session.StartNextTrack()
	if !ok {
		return nil, nil
	}

	url := track.StreamURL()
	if err := ValidateStreamURL(url); err != nil {
		c.logger.Error().Err(err).Msg("refusing to play invalid audio url")
		c.session.StopPlayback()
		return nil, nil
	}

	src, err := c.newSource(url, c.logger)
	if err != nil {
		c.session.StopPlayback()
		return nil, fmt.Errorf("build audio source: %w", err)
	}

	if err := src.Start(func(exitErr error) {
		c.handleSourceExit(conn, src, exitErr)
	}); err != nil {
		c.session.StopPlayback()
		return nil, fmt.Errorf("start audio source: %w", err)
	}

	if err := conn.Play(src); err != nil {
		src.Stop()
		c.session.StopPlayback()
		return nil, fmt.Errorf("begin delivery: %w", err)
	}

	c.setCurrentLocked(src)
	c.logger.Info().Str("title", track.Title).Str("url", url).Msg("track started")

	c.emit(broadcast.EventTrackStarted, track.Fields())
	c.emit(broadcast.EventQueueUpdate, c.session.QueuePayload())
	return &track, nil
}

// Stop halts delivery and tears down the current source, then clears the
// session's now-playing state.
func (c *Controller) Stop(conn Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(conn)
}

func (c *Controller) stopLocked(conn Connection) {
	if conn.IsActive() {
		conn.Stop()
	}
	c.teardownLocked()
	c.session.StopPlayback()
}

// Skip stops the current track and starts the next one under a single
// continuous lock hold. Returns the newly started track or nil.
func (c *Controller) Skip(conn Connection) (*session.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(conn)
	return c.playNextLocked(conn)
}

// handleSourceExit runs on the subprocess exit monitor's goroutine. It
// re-enters the controller mutex before touching state, and ignores exits
// from sources that have already been replaced.
func (c *Controller) handleSourceExit(conn Connection, src Source, exitErr error) {
	if exitErr != nil {
		c.logger.Warn().Err(exitErr).Msg("playback ended with error")
	}

	c.mu.Lock()
	if c.current != src {
		c.mu.Unlock()
		return
	}
	ended, _, wasPlaying := c.session.NowPlaying()
	c.teardownLocked()
	c.session.StopPlayback()
	if wasPlaying {
		c.emit(broadcast.EventTrackEnded, ended.Fields())
	}
	c.emit(broadcast.EventQueueUpdate, c.session.QueuePayload())
	c.mu.Unlock()

	if !c.session.ContinuationEnabled() || c.session.QueueSize() == 0 {
		return
	}

	c.logger.Info().
		Bool("autoplay", c.session.AutoplayEnabled()).
		Bool("dj", c.session.DJEnabled()).
		Int("queue_size", c.session.QueueSize()).
		Msg("continuation active, starting next track")

	started, err := c.PlayNext(conn)
	if err != nil {
		c.logger.Error().Err(err).Msg("continuation playback failed")
		return
	}
	if started != nil && c.hooks.Announce != nil {
		c.hooks.Announce(*started)
	}
}

func (c *Controller) setCurrentLocked(src Source) {
	if c.current == nil && src != nil {
		telemetry.ControllersPlaying.Inc()
	}
	c.current = src
}

func (c *Controller) teardownLocked() {
	if c.current == nil {
		return
	}
	c.current.Stop()
	c.current = nil
	telemetry.ControllersPlaying.Dec()
}

func (c *Controller) emit(event broadcast.EventType, data map[string]any) {
	if c.hooks.Publish == nil {
		return
	}
	c.hooks.Publish(event, broadcast.Payload(data))
}
