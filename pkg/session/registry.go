package session

import "sync"

// Registry is the process-wide table of live sessions, keyed by
// connection handle. The gateway owns insert/remove; the resolver and
// relay receive sessions by reference.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.Handle] = s
	r.mu.Unlock()
}

func (r *Registry) Get(handle string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[handle]
	return s, ok
}

// Remove deletes and closes the session. Safe to call for unknown
// handles.
func (r *Registry) Remove(handle string) {
	r.mu.Lock()
	s, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
