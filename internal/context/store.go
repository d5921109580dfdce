package context

import "sync"

// Store maps session identifiers to their History.
// Sessions are never evicted; they live as long as the process.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*History
}

func NewStore() *Store {
	return &Store{sessions: map[int64]*History{}}
}

// Get returns the History of a session, registering an empty one on first use.
func (s *Store) Get(sessionID int64) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[sessionID]
	if !ok {
		h = &History{}
		s.sessions[sessionID] = h
	}
	return h
}

// Append records one exchange: the user turn followed by the assistant turn.
func (s *Store) Append(sessionID int64, user, assistant Turn) {
	s.Get(sessionID).Append(user, assistant)
}

// Sessions returns the number of registered sessions.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
