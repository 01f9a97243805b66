package localstore

import (
	"context"
	"sync"

	"github.com/agentworkforce/storysync/internal/story"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: snapshot{}}
}

func (m *MemoryStore) GetAll(_ context.Context, c Collection) ([]story.Story, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return story.CloneAll(m.data[c]), nil
}

func (m *MemoryStore) Get(_ context.Context, c Collection, id string) (story.Story, bool, error) {
	if err := checkCollection(c); err != nil {
		return story.Story{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data.get(c, id)
	return s, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, c Collection, s story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.put(c, s)
	return nil
}

func (m *MemoryStore) PutAll(_ context.Context, c Collection, stories []story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	stories, err := normalizeAll(stories)
	if err != nil {
		return err
	}
	replacement := story.CloneAll(stories)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c] = replacement
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, c Collection, id string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.delete(c, id)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, c Collection) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, c)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
