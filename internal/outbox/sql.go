package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/storysync/internal/backend"
)

const (
	sqlQueueTableName   = "storysync_outbox"
	sqlQueueKey         = "default"
	sqlOperationTimeout = 5 * time.Second
)

// sqlQueue implements Queue over database/sql for the sqlite and postgres
// backends. Capacity checks and inserts share one transaction.
type sqlQueue struct {
	tableName string
	queueKey  string
	capacity  int
	seqColumn string
	open      func() (*sql.DB, error)
	rebind    func(string) string
	lockTx    func(ctx context.Context, tx *sql.Tx) error

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func (q *sqlQueue) table() string {
	return backend.QuoteIdentifier(q.tableName)
}

func (q *sqlQueue) bind(query string) string {
	if q.rebind == nil {
		return query
	}
	return q.rebind(query)
}

func (q *sqlQueue) ensureReady() error {
	q.initOnce.Do(func() {
		db, err := q.open()
		if err != nil {
			q.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		createTableQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq %s,
				queue_key TEXT NOT NULL,
				id TEXT NOT NULL UNIQUE,
				payload TEXT NOT NULL
			)`, q.table(), q.seqColumn)
		if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		createIndexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (queue_key, seq)",
			backend.QuoteIdentifier(q.tableName+"_queue_key_seq_idx"),
			q.table(),
		)
		if _, err := db.ExecContext(ctx, createIndexQuery); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		q.db = db
	})
	return q.initErr
}

func (q *sqlQueue) Append(ctx context.Context, r Record) (Record, error) {
	r, err := prepareAppend(r)
	if err != nil {
		return Record{}, err
	}
	if err := q.ensureReady(); err != nil {
		return Record{}, err
	}
	r.Seq = 0
	payload, err := encodeRecord(r)
	if err != nil {
		return Record{}, err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if q.lockTx != nil {
		if err := q.lockTx(ctx, tx); err != nil {
			return Record{}, err
		}
	}
	var depth int
	countQuery := q.bind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = ?", q.table()))
	if err := tx.QueryRowContext(ctx, countQuery, q.queueKey).Scan(&depth); err != nil {
		return Record{}, err
	}
	if depth >= q.capacity {
		return Record{}, ErrQueueFull
	}
	insertQuery := q.bind(fmt.Sprintf("INSERT INTO %s (queue_key, id, payload) VALUES (?, ?, ?) RETURNING seq", q.table()))
	if err := tx.QueryRowContext(ctx, insertQuery, q.queueKey, r.ID.String(), payload).Scan(&r.Seq); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	committed = true
	return r, nil
}

func (q *sqlQueue) Peek(ctx context.Context) (Record, bool, error) {
	if err := q.ensureReady(); err != nil {
		return Record{}, false, err
	}
	query := q.bind(fmt.Sprintf("SELECT seq, payload FROM %s WHERE queue_key = ? ORDER BY seq ASC LIMIT 1", q.table()))
	var seq int64
	var payload string
	err := q.db.QueryRowContext(ctx, query, q.queueKey).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	r, err := decodeRecord(payload, seq)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (q *sqlQueue) Remove(ctx context.Context, id uuid.UUID) error {
	if err := q.ensureReady(); err != nil {
		return err
	}
	query := q.bind(fmt.Sprintf("DELETE FROM %s WHERE queue_key = ? AND id = ?", q.table()))
	_, err := q.db.ExecContext(ctx, query, q.queueKey, id.String())
	return err
}

func (q *sqlQueue) List(ctx context.Context) ([]Record, error) {
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	query := q.bind(fmt.Sprintf("SELECT seq, payload FROM %s WHERE queue_key = ? ORDER BY seq ASC", q.table()))
	rows, err := q.db.QueryContext(ctx, query, q.queueKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Record{}
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		r, err := decodeRecord(payload, seq)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (q *sqlQueue) Len(ctx context.Context) (int, error) {
	if err := q.ensureReady(); err != nil {
		return 0, err
	}
	query := q.bind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = ?", q.table()))
	var depth int
	if err := q.db.QueryRowContext(ctx, query, q.queueKey).Scan(&depth); err != nil {
		return 0, err
	}
	return depth, nil
}

func (q *sqlQueue) Capacity() int {
	return q.capacity
}

func (q *sqlQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

type SQLiteQueue struct {
	*sqlQueue
}

func OpenSQLiteQueue(path string, capacity int) (*SQLiteQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, backend.ErrInvalidDSN
	}
	q := &SQLiteQueue{sqlQueue: &sqlQueue{
		tableName: sqlQueueTableName,
		queueKey:  sqlQueueKey,
		capacity:  normalizeCapacity(capacity),
		seqColumn: "INTEGER PRIMARY KEY AUTOINCREMENT",
		open: func() (*sql.DB, error) {
			return backend.OpenSQLite(path)
		},
	}}
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	return q, nil
}

// PostgresQueue connects lazily on first use.
type PostgresQueue struct {
	*sqlQueue
}

func NewPostgresQueue(dsn string, capacity int) (*PostgresQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, backend.ErrInvalidDSN
	}
	q := &sqlQueue{
		tableName: sqlQueueTableName,
		queueKey:  sqlQueueKey,
		capacity:  normalizeCapacity(capacity),
		seqColumn: "BIGSERIAL PRIMARY KEY",
		open: func() (*sql.DB, error) {
			return backend.OpenPostgres(dsn)
		},
		rebind: backend.RebindDollar,
	}
	q.lockTx = func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", backend.AdvisoryLockKey(q.tableName, q.queueKey))
		return err
	}
	return &PostgresQueue{sqlQueue: q}, nil
}
