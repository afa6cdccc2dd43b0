package auth

import (
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a user may take on the consent screen.
const DefaultStateTTL = 10 * time.Minute

// StateStore issues single-use OAuth state tokens.
type StateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		states: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a fresh state token.
func (s *StateStore) Issue() (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	s.states[token] = s.now().Add(s.ttl)
	return token, nil
}

// Consume reports whether state was issued and has not expired. A state can
// be consumed once.
func (s *StateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return s.now().Before(expires)
}

func (s *StateStore) evictExpired() {
	now := s.now()
	for token, expires := range s.states {
		if !now.Before(expires) {
			delete(s.states, token)
		}
	}
}
