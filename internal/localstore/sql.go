package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

const (
	sqlStoreTableName   = "storysync_stories"
	sqlOperationTimeout = 5 * time.Second
)

// sqlStore implements Store over database/sql. The sqlite and postgres
// backends differ only in how they open the database, bind parameters, and
// serialize wholesale replaces.
type sqlStore struct {
	tableName string
	open      func() (*sql.DB, error)
	rebind    func(string) string
	lockTx    func(ctx context.Context, tx *sql.Tx, c Collection) error

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func (s *sqlStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.open()
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				position BIGINT NOT NULL,
				payload TEXT NOT NULL,
				PRIMARY KEY (collection, id)
			)`, s.table())
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *sqlStore) table() string {
	return backend.QuoteIdentifier(s.tableName)
}

func (s *sqlStore) q(query string) string {
	if s.rebind == nil {
		return query
	}
	return s.rebind(query)
}

func (s *sqlStore) GetAll(ctx context.Context, c Collection) ([]story.Story, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT payload FROM %s WHERE collection = ? ORDER BY position ASC, id ASC", s.table())
	rows, err := s.db.QueryContext(ctx, s.q(query), string(c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []story.Story{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var item story.Story
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *sqlStore) Get(ctx context.Context, c Collection, id string) (story.Story, bool, error) {
	if err := checkCollection(c); err != nil {
		return story.Story{}, false, err
	}
	if err := s.ensureReady(); err != nil {
		return story.Story{}, false, err
	}
	query := fmt.Sprintf("SELECT payload FROM %s WHERE collection = ? AND id = ?", s.table())
	var payload string
	err := s.db.QueryRowContext(ctx, s.q(query), string(c), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return story.Story{}, false, nil
	}
	if err != nil {
		return story.Story{}, false, err
	}
	var item story.Story
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return story.Story{}, false, err
	}
	return item, true, nil
}

func (s *sqlStore) Put(ctx context.Context, c Collection, item story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (collection, id, position, payload)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM %[1]s WHERE collection = ?), ?)
		ON CONFLICT (collection, id) DO UPDATE SET payload = excluded.payload`, s.table())
	_, err = s.db.ExecContext(ctx, s.q(query), string(c), item.ID, string(c), string(payload))
	return err
}

func (s *sqlStore) PutAll(ctx context.Context, c Collection, stories []story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	stories, err := normalizeAll(stories)
	if err != nil {
		return err
	}
	payloads := make([]string, len(stories))
	for i, item := range stories {
		payload, err := json.Marshal(item)
		if err != nil {
			return err
		}
		payloads[i] = string(payload)
	}
	if err := s.ensureReady(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if s.lockTx != nil {
		if err := s.lockTx(ctx, tx, c); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.q(fmt.Sprintf("DELETE FROM %s WHERE collection = ?", s.table())), string(c)); err != nil {
		return err
	}
	insert := s.q(fmt.Sprintf(`
		INSERT INTO %s (collection, id, position, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET position = excluded.position, payload = excluded.payload`, s.table()))
	for i, item := range stories {
		if _, err := tx.ExecContext(ctx, insert, string(c), item.ID, i+1, payloads[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, c Collection, id string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND id = ?", s.table())
	_, err := s.db.ExecContext(ctx, s.q(query), string(c), id)
	return err
}

func (s *sqlStore) Clear(ctx context.Context, c Collection) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = ?", s.table())
	_, err := s.db.ExecContext(ctx, s.q(query), string(c))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
