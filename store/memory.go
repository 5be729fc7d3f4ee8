package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dhollinger/promptmend/session"
)

// MemoryStore is a map-backed session.Store for tests and throwaway runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	prompts  map[string]*session.Prompt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		prompts:  make(map[string]*session.Prompt),
	}
}

func (m *MemoryStore) InsertSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Steps = append([]session.ProgressStep(nil), s.Steps...)
	cp.Records = append(cp.Records[:0:0], s.Records...)
	return &cp, nil
}

func (m *MemoryStore) PatchSession(_ context.Context, id string, patch session.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	applyPatch(s, patch)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func applyPatch(s *session.Session, patch session.Patch) {
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.CurrentIteration != nil {
		s.CurrentIteration = *patch.CurrentIteration
	}
	if patch.Steps != nil {
		s.Steps = append([]session.ProgressStep(nil), (*patch.Steps)...)
	}
	if patch.Records != nil {
		s.Records = append(s.Records[:0:0], (*patch.Records)...)
	}
	if patch.Final != nil {
		s.Final = patch.Final
	}
	if patch.ErrorMessage != nil {
		s.ErrorMessage = *patch.ErrorMessage
	}
}

func (m *MemoryStore) ListRecent(_ context.Context, userID string, status session.Status, limit int) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertPrompt(_ context.Context, p *session.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prompts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPrompt(_ context.Context, id string) (*session.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PatchPrompt(_ context.Context, id string, patch session.PromptPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok {
		return ErrNotFound
	}
	if patch.OptimizedPrompt != nil {
		p.OptimizedPrompt = *patch.OptimizedPrompt
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	return nil
}
