package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const DefaultCapacity = 256

var ErrQueueFull = errors.New("outbox queue is full")

// Queue is a durable FIFO of deferred mutations. Records leave the queue only
// through Remove.
type Queue interface {
	Append(ctx context.Context, r Record) (Record, error)
	Peek(ctx context.Context) (Record, bool, error)
	Remove(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]Record, error)
	Len(ctx context.Context) (int, error)
	Capacity() int
	Close() error
}

func normalizeCapacity(capacity int) int {
	if capacity <= 0 {
		return DefaultCapacity
	}
	return capacity
}
