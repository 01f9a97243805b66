package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

// FileStore keeps both collections in one JSON document. Every mutation
// rewrites the document through a temp file and rename, so a crash leaves
// either the previous or the next snapshot on disk.
type FileStore struct {
	path string
	lock *backend.FileLock

	mu   sync.RWMutex
	data snapshot
}

type fileDocument struct {
	Version     int                         `json:"version"`
	Collections map[Collection][]story.Story `json:"collections"`
}

func OpenFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, story.ErrInvalidInput
	}
	lock, err := backend.AcquireFileLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	data, err := loadFileSnapshot(path)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	return &FileStore{path: path, lock: lock, data: data}, nil
}

func loadFileSnapshot(path string) (snapshot, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return snapshot{}, nil
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	data := snapshot{}
	for c, items := range doc.Collections {
		if c.Valid() {
			data[c] = items
		}
	}
	return data, nil
}

func (f *FileStore) GetAll(_ context.Context, c Collection) ([]story.Story, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return story.CloneAll(f.data[c]), nil
}

func (f *FileStore) Get(_ context.Context, c Collection, id string) (story.Story, bool, error) {
	if err := checkCollection(c); err != nil {
		return story.Story{}, false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.data.get(c, id)
	return s, ok, nil
}

func (f *FileStore) Put(_ context.Context, c Collection, s story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return f.mutate(func(next snapshot) {
		next.put(c, s)
	})
}

func (f *FileStore) PutAll(_ context.Context, c Collection, stories []story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	stories, err := normalizeAll(stories)
	if err != nil {
		return err
	}
	return f.mutate(func(next snapshot) {
		next[c] = story.CloneAll(stories)
	})
}

func (f *FileStore) Delete(_ context.Context, c Collection, id string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	return f.mutate(func(next snapshot) {
		next.delete(c, id)
	})
}

func (f *FileStore) Clear(_ context.Context, c Collection) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	return f.mutate(func(next snapshot) {
		delete(next, c)
	})
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lock == nil {
		return nil
	}
	err := f.lock.Release()
	f.lock = nil
	return err
}

// mutate applies fn to a copy, persists the copy, and only then publishes it
// to readers.
func (f *FileStore) mutate(fn func(snapshot)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lock == nil {
		return fmt.Errorf("%w: store closed", story.ErrInvalidInput)
	}
	next := f.data.clone()
	fn(next)
	payload, err := json.MarshalIndent(fileDocument{Version: 1, Collections: next}, "", "  ")
	if err != nil {
		return err
	}
	if err := backend.WriteFileAtomic(f.path, payload, 0o600); err != nil {
		return err
	}
	f.data = next
	return nil
}
