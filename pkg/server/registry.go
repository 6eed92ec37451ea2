package server

import (
	"errors"
	"sort"
	"sync"
)

// ErrDuplicateUsername is returned when registering a name that is already online.
var ErrDuplicateUsername = errors.New("server: username already taken")

// Registry maps usernames to active sessions. It is the single source of
// truth for who is online; one RWMutex guards the whole map so the
// check-and-insert in Register is atomic.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // username -> session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds a session under username, failing with ErrDuplicateUsername
// if the name is taken.
func (r *Registry) Register(username string, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[username]; exists {
		return ErrDuplicateUsername
	}
	r.sessions[username] = sess
	return nil
}

// Unregister removes username. It is a no-op when the name is absent and
// reports whether anything was removed.
func (r *Registry) Unregister(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[username]; !ok {
		return false
	}
	delete(r.sessions, username)
	return true
}

// Remove unregisters sess only if it is still the entry for its username.
func (r *Registry) Remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[sess.Username()]; !ok || cur != sess {
		return false
	}
	delete(r.sessions, sess.Username())
	return true
}

// Lookup retrieves the session for username.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// Snapshot returns all active sessions ordered by username.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Username() < result[j].Username() })
	return result
}

// Usernames returns the online usernames in sorted order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
