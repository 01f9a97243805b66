package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

// FileQueue persists the whole queue as one JSON document, rewritten
// atomically after every change.
type FileQueue struct {
	path     string
	capacity int
	lock     *backend.FileLock

	mu      sync.Mutex
	nextSeq int64
	items   []Record
}

type fileQueueState struct {
	Version int      `json:"version"`
	NextSeq int64    `json:"nextSeq"`
	Items   []Record `json:"items"`
}

func OpenFileQueue(path string, capacity int) (*FileQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, story.ErrInvalidInput
	}
	lock, err := backend.AcquireFileLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	q := &FileQueue{
		path:     path,
		capacity: normalizeCapacity(capacity),
		lock:     lock,
		items:    []Record{},
	}
	if err := q.load(); err != nil {
		_ = lock.Release()
		return nil, err
	}
	return q, nil
}

func (q *FileQueue) Append(_ context.Context, r Record) (Record, error) {
	r, err := prepareAppend(r)
	if err != nil {
		return Record{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lock == nil {
		return Record{}, fmt.Errorf("%w: queue closed", story.ErrInvalidInput)
	}
	if len(q.items) >= q.capacity {
		return Record{}, ErrQueueFull
	}
	r.Seq = q.nextSeq + 1
	items := append(cloneRecords(q.items), r)
	if err := q.saveLocked(r.Seq, items); err != nil {
		return Record{}, err
	}
	q.nextSeq = r.Seq
	q.items = items
	return r.clone(), nil
}

func (q *FileQueue) Peek(_ context.Context) (Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Record{}, false, nil
	}
	return q.items[0].clone(), true, nil
}

func (q *FileQueue) Remove(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lock == nil {
		return fmt.Errorf("%w: queue closed", story.ErrInvalidInput)
	}
	items := removeRecord(cloneRecords(q.items), id)
	if len(items) == len(q.items) {
		return nil
	}
	if err := q.saveLocked(q.nextSeq, items); err != nil {
		return err
	}
	q.items = items
	return nil
}

func (q *FileQueue) List(_ context.Context) ([]Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneRecords(q.items), nil
}

func (q *FileQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *FileQueue) Capacity() int {
	return q.capacity
}

func (q *FileQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lock == nil {
		return nil
	}
	err := q.lock.Release()
	q.lock = nil
	return err
}

func (q *FileQueue) load() error {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var state fileQueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode %s: %w", q.path, err)
	}
	q.nextSeq = state.NextSeq
	for _, r := range state.Items {
		if r.Seq > q.nextSeq {
			q.nextSeq = r.Seq
		}
	}
	if state.Items != nil {
		q.items = state.Items
	}
	return nil
}

func (q *FileQueue) saveLocked(nextSeq int64, items []Record) error {
	data, err := json.Marshal(fileQueueState{Version: 1, NextSeq: nextSeq, Items: items})
	if err != nil {
		return err
	}
	return backend.WriteFileAtomic(q.path, data, 0o600)
}
