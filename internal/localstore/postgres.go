package localstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

// PostgresStore connects lazily on first use.
type PostgresStore struct {
	*sqlStore
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, story.ErrInvalidInput
	}
	s := &sqlStore{
		tableName: sqlStoreTableName,
		open: func() (*sql.DB, error) {
			return backend.OpenPostgres(dsn)
		},
		rebind: backend.RebindDollar,
	}
	s.lockTx = func(ctx context.Context, tx *sql.Tx, c Collection) error {
		_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", backend.AdvisoryLockKey(s.tableName, string(c)))
		return err
	}
	return &PostgresStore{sqlStore: s}, nil
}
