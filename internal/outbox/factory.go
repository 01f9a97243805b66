package outbox

import (
	"fmt"

	"github.com/agentworkforce/storysync/internal/backend"
)

type Factory func(dsn string, capacity int) (Queue, error)

var registry backend.Registry[Factory]

func RegisterFactory(scheme string, factory Factory) {
	if factory == nil {
		return
	}
	registry.Register(scheme, factory)
}

// BuildFromDSN opens the queue selected by the DSN scheme. A bare path is a
// JSON file queue.
func BuildFromDSN(dsn string, capacity int) (Queue, error) {
	scheme, parsed, err := backend.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if factory, ok := registry.Lookup(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, err := backend.Path(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return opened(OpenFileQueue(path, capacity))
	case "memory", "mem", "inmem":
		return NewMemoryQueue(capacity), nil
	case "sqlite", "sqlite3":
		path, err := backend.Path(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return opened(OpenSQLiteQueue(path, capacity))
	case "postgres", "postgresql":
		return opened(NewPostgresQueue(dsn, capacity))
	case "redis", "rediss":
		return opened(OpenRedisQueue(dsn, capacity))
	default:
		return nil, fmt.Errorf("unsupported outbox backend scheme: %s", scheme)
	}
}

func opened[T Queue](q T, err error) (Queue, error) {
	if err != nil {
		return nil, err
	}
	return q, nil
}
