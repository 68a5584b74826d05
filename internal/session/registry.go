package session

import (
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/skald/internal/telemetry"
)

// Registry owns the one session per community. Sessions are created lazily
// on first access and live for the process lifetime; callers hold the
// registry by reference rather than reaching for a package global.
type Registry struct {
	mu        sync.RWMutex
	cooldown  time.Duration
	userLimit int
	sessions  map[string]*Session
}

// NewRegistry creates a registry whose sessions start with the given
// cooldown and per-user limit.
func NewRegistry(cooldown time.Duration, userLimit int) *Registry {
	return &Registry{
		cooldown:  cooldown,
		userLimit: userLimit,
		sessions:  make(map[string]*Session),
	}
}

// ForCommunity returns the community's session, creating it on first use.
func (r *Registry) ForCommunity(communityID string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[communityID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[communityID]; ok {
		return s
	}
	s = New(communityID, r.cooldown, r.userLimit)
	r.sessions[communityID] = s
	telemetry.SessionsActive.Set(float64(len(r.sessions)))
	return s
}

// Peek returns the community's session without creating one.
func (r *Registry) Peek(communityID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[communityID]
	return s, ok
}

// Communities returns the ids with live sessions, sorted.
func (r *Registry) Communities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
