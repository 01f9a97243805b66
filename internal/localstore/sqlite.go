package localstore

import (
	"database/sql"
	"strings"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

type SQLiteStore struct {
	*sqlStore
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, story.ErrInvalidInput
	}
	s := &SQLiteStore{sqlStore: &sqlStore{
		tableName: sqlStoreTableName,
		open: func() (*sql.DB, error) {
			return backend.OpenSQLite(path)
		},
	}}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s, nil
}
