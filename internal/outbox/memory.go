package outbox

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type MemoryQueue struct {
	capacity int

	mu      sync.Mutex
	nextSeq int64
	items   []Record
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{capacity: normalizeCapacity(capacity)}
}

func (q *MemoryQueue) Append(_ context.Context, r Record) (Record, error) {
	r, err := prepareAppend(r)
	if err != nil {
		return Record{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return Record{}, ErrQueueFull
	}
	q.nextSeq++
	r.Seq = q.nextSeq
	q.items = append(q.items, r)
	return r.clone(), nil
}

func (q *MemoryQueue) Peek(_ context.Context) (Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Record{}, false, nil
	}
	return q.items[0].clone(), true, nil
}

func (q *MemoryQueue) Remove(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = removeRecord(q.items, id)
	return nil
}

func (q *MemoryQueue) List(_ context.Context) ([]Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneRecords(q.items), nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *MemoryQueue) Capacity() int {
	return q.capacity
}

func (q *MemoryQueue) Close() error {
	return nil
}

func removeRecord(items []Record, id uuid.UUID) []Record {
	for i := range items {
		if items[i].ID == id {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}

func cloneRecords(items []Record) []Record {
	out := make([]Record, len(items))
	for i, r := range items {
		out[i] = r.clone()
	}
	return out
}
