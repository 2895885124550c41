package bridge

import (
	"cmp"
	"slices"
	"sync"
)

// Registry maps tenant chat ids to live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[int64]*Session{}}
}

// CreateOrGet returns the session for chatID, building it with create only
// when none exists. created reports whether create ran.
func (r *Registry) CreateOrGet(chatID int64, create func() *Session) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[chatID]; ok {
		return existing, false
	}
	s = create()
	r.sessions[chatID] = s
	return s, true
}

// Get returns the live session for chatID.
func (r *Registry) Get(chatID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	return s, ok
}

// Remove unregisters s. It is a no-op when chatID now maps to another session.
func (r *Registry) Remove(chatID int64, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[chatID]; !ok || current != s {
		return false
	}
	delete(r.sessions, chatID)
	return true
}

// List returns the live sessions ordered by chat id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b *Session) int { return cmp.Compare(a.chatID, b.chatID) })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
