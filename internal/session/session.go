/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"sync"
	"time"
)

// Track is one requested item in a session queue. The queue holds full
// track values rather than ids so playback never needs a database read.
type Track struct {
	TrackID       string
	Title         string
	Artist        string
	AudioURL      string
	OpusURL       string
	MediaURL      string
	PageURL       string
	RequesterID   string
	RequesterName string
	Duration      time.Duration
}

// StreamURL returns the URL playback should hand to the encoder,
// preferring the transcoded opus artifact over the original source.
func (t Track) StreamURL() string {
	if t.OpusURL != "" {
		return t.OpusURL
	}
	return t.AudioURL
}

// Fields returns the event payload representation of the track.
func (t Track) Fields() map[string]any {
	m := map[string]any{
		"title":          t.Title,
		"artist_display": t.Artist,
		"requester_id":   t.RequesterID,
		"requester_name": t.RequesterName,
		"media_url":      t.MediaURL,
		"page_url":       t.PageURL,
	}
	if t.TrackID != "" {
		m["track_id"] = t.TrackID
	}
	if t.Duration > 0 {
		m["duration_seconds"] = t.Duration.Seconds()
	}
	return m
}

// Session holds the live jukebox state for one community. It is not
// persisted; the durable queue history lives in the database. State changes
// go through named methods so the invariants (single now-playing, FIFO
// order, counted modes auto-disabling at zero) stay in one place.
//
// Submission gating policy is the caller's job: Session only tracks the
// counters and timestamps the policy is evaluated against.
type Session struct {
	mu sync.Mutex

	communityID      string
	submissionsOpen  bool
	userLimit        int // 0 means unlimited
	defaultUserLimit int
	userCounts       map[string]int
	lastSubmission   map[string]time.Time
	cooldown         time.Duration
	defaultCooldown  time.Duration

	autoplayEnabled   bool
	autoplayRemaining int // counts down only when limited
	autoplayLimited   bool
	djEnabled         bool
	djRemaining       int
	djLimited         bool

	queue               []Track
	nowPlaying          *Track
	nowPlayingStartedAt time.Time
	announceChannelID   string
}

// New creates an open session for a community.
func New(communityID string, cooldown time.Duration, userLimit int) *Session {
	return &Session{
		communityID:      communityID,
		submissionsOpen:  true,
		userLimit:        userLimit,
		defaultUserLimit: userLimit,
		userCounts:       make(map[string]int),
		lastSubmission:   make(map[string]time.Time),
		cooldown:         cooldown,
		defaultCooldown:  cooldown,
	}
}

// CommunityID returns the owning community id.
func (s *Session) CommunityID() string {
	return s.communityID
}

// Enqueue appends a track and returns its 1-based queue position.
func (s *Session) Enqueue(track Track) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, track)
	return len(s.queue)
}

// StartNextTrack pops the queue head and makes it now-playing, recording a
// start time from the monotonic clock. It returns false and clears
// now-playing when the queue is empty. Counted autoplay/DJ budgets tick
// down here and disable themselves at zero.
func (s *Session) StartNextTrack() (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		s.stopPlaybackLocked()
		return Track{}, false
	}

	track := s.queue[0]
	s.queue = s.queue[1:]
	s.nowPlaying = &track
	s.nowPlayingStartedAt = time.Now()

	if s.autoplayEnabled && s.autoplayLimited {
		s.autoplayRemaining--
		if s.autoplayRemaining <= 0 {
			s.disableAutoplayLocked()
		}
	}
	if s.djEnabled && s.djLimited {
		s.djRemaining--
		if s.djRemaining <= 0 {
			s.disableDJLocked()
		}
	}

	return track, true
}

// StopPlayback clears now-playing.
func (s *Session) StopPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPlaybackLocked()
}

func (s *Session) stopPlaybackLocked() {
	s.nowPlaying = nil
	s.nowPlayingStartedAt = time.Time{}
}

// Reset restores defaults: submissions open, counters cleared, modes off,
// queue emptied, playback stopped. Cooldown timestamps survive so a reset
// cannot be used to dodge an active cooldown.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissionsOpen = true
	s.userLimit = s.defaultUserLimit
	s.cooldown = s.defaultCooldown
	s.userCounts = make(map[string]int)
	s.disableAutoplayLocked()
	s.disableDJLocked()
	s.queue = nil
	s.announceChannelID = ""
	s.stopPlaybackLocked()
}

// MarkSubmission records a submission: bumps the user's count and stores
// the timestamp the cooldown is measured from.
func (s *Session) MarkSubmission(user string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCounts[user]++
	s.lastSubmission[user] = now
}

// CooldownRemaining returns how long the user must wait before submitting
// again, zero when clear. Both timestamps come from time.Now so the
// subtraction uses the monotonic clock.
func (s *Session) CooldownRemaining(user string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastSubmission[user]
	if !ok || s.cooldown <= 0 {
		return 0
	}
	remaining := s.cooldown - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetSubmissionCounts clears per-user counts. Cooldown timestamps are
// kept.
func (s *Session) ResetSubmissionCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCounts = make(map[string]int)
}

// UserCount returns the user's submission count this session.
func (s *Session) UserCount(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCounts[user]
}

// UserLimit returns the per-user submission cap, 0 for unlimited.
func (s *Session) UserLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLimit
}

// SetUserLimit sets the per-user submission cap, 0 for unlimited.
func (s *Session) SetUserLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit < 0 {
		limit = 0
	}
	s.userLimit = limit
}

// SetCooldown sets the per-user submission cooldown.
func (s *Session) SetCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown = d
}

// SubmissionsOpen reports whether the session accepts submissions.
func (s *Session) SubmissionsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissionsOpen
}

// SetSubmissionsOpen opens or closes submissions.
func (s *Session) SetSubmissionsOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissionsOpen = open
}

// SetAutoplay enables autoplay with a counted budget. A budget of zero or
// less disables it.
func (s *Session) SetAutoplay(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remaining <= 0 {
		s.disableAutoplayLocked()
		return
	}
	s.autoplayEnabled = true
	s.autoplayLimited = true
	s.autoplayRemaining = remaining
}

// SetAutoplayUnlimited enables autoplay with no budget.
func (s *Session) SetAutoplayUnlimited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoplayEnabled = true
	s.autoplayLimited = false
	s.autoplayRemaining = 0
}

// DisableAutoplay turns autoplay off.
func (s *Session) DisableAutoplay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableAutoplayLocked()
}

func (s *Session) disableAutoplayLocked() {
	s.autoplayEnabled = false
	s.autoplayLimited = false
	s.autoplayRemaining = 0
}

// AutoplayEnabled reports whether autoplay is on.
func (s *Session) AutoplayEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoplayEnabled
}

// SetDJ enables DJ mode with a counted budget. A budget of zero or less
// disables it.
func (s *Session) SetDJ(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remaining <= 0 {
		s.disableDJLocked()
		return
	}
	s.djEnabled = true
	s.djLimited = true
	s.djRemaining = remaining
}

// SetDJUnlimited enables DJ mode with no budget.
func (s *Session) SetDJUnlimited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.djEnabled = true
	s.djLimited = false
	s.djRemaining = 0
}

// DisableDJ turns DJ mode off.
func (s *Session) DisableDJ() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableDJLocked()
}

func (s *Session) disableDJLocked() {
	s.djEnabled = false
	s.djLimited = false
	s.djRemaining = 0
}

// DJEnabled reports whether DJ mode is on.
func (s *Session) DJEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.djEnabled
}

// ContinuationEnabled reports whether end-of-track should start the next
// queued track (autoplay or DJ mode).
func (s *Session) ContinuationEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoplayEnabled || s.djEnabled
}

// QueueSize returns the number of queued tracks.
func (s *Session) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// QueueSnapshot returns a copy of the queued tracks in order.
func (s *Session) QueueSnapshot() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.queue))
	copy(out, s.queue)
	return out
}

// NowPlaying returns the current track and its start time, or false when
// idle.
func (s *Session) NowPlaying() (Track, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil {
		return Track{}, time.Time{}, false
	}
	return *s.nowPlaying, s.nowPlayingStartedAt, true
}

// AnnounceChannelID returns where end-of-track announcements go.
func (s *Session) AnnounceChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announceChannelID
}

// SetAnnounceChannelID records where end-of-track announcements go.
func (s *Session) SetAnnounceChannelID(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announceChannelID = channelID
}

// QueuePayload builds the queue_update event payload: queue size, a preview
// of the first five entries, and the now-playing track when present.
func (s *Session) QueuePayload() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	preview := make([]map[string]any, 0, 5)
	for i, track := range s.queue {
		if i == 5 {
			break
		}
		preview = append(preview, track.Fields())
	}

	payload := map[string]any{
		"queue_size":    len(s.queue),
		"queue_preview": preview,
	}
	if s.nowPlaying != nil {
		payload["now_playing"] = s.nowPlaying.Fields()
	}
	return payload
}
