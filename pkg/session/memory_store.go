package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Message)}
}

func (s *MemoryStore) Load(ctx context.Context, sessionKey string) ([]Message, error) {
	if err := ValidateKey(sessionKey); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.sessions[sessionKey]))
	copy(out, s.sessions[sessionKey])
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, sessionKey string, messages []Message) error {
	if err := ValidateKey(sessionKey); err != nil {
		return err
	}
	cp := make([]Message, len(messages))
	copy(cp, messages)

	s.mu.Lock()
	s.sessions[sessionKey] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	delete(s.sessions, sessionKey)
	s.mu.Unlock()
	return nil
}
