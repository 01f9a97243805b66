package localstore

import (
	"fmt"

	"github.com/agentworkforce/storysync/internal/backend"
)

type Factory func(dsn string) (Store, error)

var registry backend.Registry[Factory]

// RegisterFactory installs a backend for scheme. It overrides the built-in
// backends of the same scheme.
func RegisterFactory(scheme string, factory Factory) {
	if factory == nil {
		return
	}
	registry.Register(scheme, factory)
}

// BuildFromDSN opens the store selected by the DSN scheme. A bare path is a
// JSON file store.
func BuildFromDSN(dsn string) (Store, error) {
	scheme, parsed, err := backend.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if factory, ok := registry.Lookup(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, err := backend.Path(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return opened(OpenFileStore(path))
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		path, err := backend.Path(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return opened(OpenSQLiteStore(path))
	case "postgres", "postgresql":
		return opened(NewPostgresStore(dsn))
	case "redis", "rediss":
		return opened(OpenRedisStore(dsn))
	default:
		return nil, fmt.Errorf("unsupported store backend scheme: %s", scheme)
	}
}

func opened[T Store](store T, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
