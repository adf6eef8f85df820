package hub

import (
	"context"
	"sync"
)

// MemoryAttachmentStore is the single-process AttachmentStore. It outlives
// individual hub instances because the router owns it, not the hub.
type MemoryAttachmentStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

var _ AttachmentStore = (*MemoryAttachmentStore)(nil)

func NewMemoryAttachmentStore() *MemoryAttachmentStore {
	return &MemoryAttachmentStore{
		sessions: make(map[string]map[string][]byte),
	}
}

func (s *MemoryAttachmentStore) Save(_ context.Context, sessionID, connID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.sessions[sessionID]
	if !ok {
		conns = make(map[string][]byte)
		s.sessions[sessionID] = conns
	}
	conns[connID] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryAttachmentStore) Delete(_ context.Context, sessionID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}

func (s *MemoryAttachmentStore) List(_ context.Context, sessionID string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.sessions[sessionID]))
	for id, data := range s.sessions[sessionID] {
		out[id] = append([]byte(nil), data...)
	}
	return out, nil
}
