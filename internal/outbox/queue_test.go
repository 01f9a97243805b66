package outbox

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

func testRecord(description string) Record {
	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	header.Set("Content-Type", "multipart/form-data; boundary=abc")
	return Record{
		Method:      http.MethodPost,
		URL:         "https://api.test/v1/stories",
		Header:      header,
		Body:        []byte("--abc\r\n" + description + "\x00\xff\r\n--abc--\r\n"),
		Description: description,
	}
}

func queueBackends() map[string]func(t *testing.T, capacity int) Queue {
	return map[string]func(t *testing.T, capacity int) Queue{
		"memory": func(t *testing.T, capacity int) Queue {
			return NewMemoryQueue(capacity)
		},
		"file": func(t *testing.T, capacity int) Queue {
			q, err := OpenFileQueue(filepath.Join(t.TempDir(), "outbox.json"), capacity)
			require.NoError(t, err)
			return q
		},
		"sqlite": func(t *testing.T, capacity int) Queue {
			q, err := OpenSQLiteQueue(filepath.Join(t.TempDir(), "outbox.db"), capacity)
			require.NoError(t, err)
			return q
		},
		"redis": func(t *testing.T, capacity int) Queue {
			mr := miniredis.RunT(t)
			return NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:outbox", capacity)
		},
	}
}

func forEachQueue(t *testing.T, capacity int, fn func(t *testing.T, q Queue)) {
	for name, build := range queueBackends() {
		t.Run(name, func(t *testing.T) {
			q := build(t, capacity)
			t.Cleanup(func() { _ = q.Close() })
			fn(t, q)
		})
	}
}

func TestQueueIsFIFOAndKeepsPayloadIdentity(t *testing.T) {
	forEachQueue(t, 8, func(t *testing.T, q Queue) {
		ctx := context.Background()
		first, err := q.Append(ctx, testRecord("first"))
		require.NoError(t, err)
		second, err := q.Append(ctx, testRecord("second"))
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, first.ID)
		require.Greater(t, second.Seq, first.Seq)
		require.False(t, first.EnqueuedAt.IsZero())

		head, ok, err := q.Peek(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, first.ID, head.ID)
		want := testRecord("first")
		require.Equal(t, want.Body, head.Body)
		require.Equal(t, want.Header, head.Header)
		require.Equal(t, want.Method, head.Method)
		require.Equal(t, want.URL, head.URL)

		all, err := q.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, "second", all[1].Description)

		require.NoError(t, q.Remove(ctx, first.ID))
		require.NoError(t, q.Remove(ctx, first.ID))
		head, ok, err = q.Peek(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, second.ID, head.ID)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func TestQueueRejectsAppendAtCapacity(t *testing.T) {
	forEachQueue(t, 2, func(t *testing.T, q Queue) {
		ctx := context.Background()
		require.Equal(t, 2, q.Capacity())
		_, err := q.Append(ctx, testRecord("a"))
		require.NoError(t, err)
		_, err = q.Append(ctx, testRecord("b"))
		require.NoError(t, err)
		_, err = q.Append(ctx, testRecord("c"))
		require.ErrorIs(t, err, ErrQueueFull)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})
}

func TestQueueEmptyPeek(t *testing.T) {
	forEachQueue(t, 4, func(t *testing.T, q Queue) {
		_, ok, err := q.Peek(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestQueueRejectsIncompleteRecord(t *testing.T) {
	forEachQueue(t, 4, func(t *testing.T, q Queue) {
		_, err := q.Append(context.Background(), Record{Method: http.MethodPost})
		require.ErrorIs(t, err, story.ErrInvalidInput)
	})
}

func TestFileQueuePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.json")
	q, err := OpenFileQueue(path, 4)
	require.NoError(t, err)
	first, err := q.Append(ctx, testRecord("first"))
	require.NoError(t, err)
	second, err := q.Append(ctx, testRecord("second"))
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, first.ID))
	require.NoError(t, q.Close())

	reopened, err := OpenFileQueue(path, 4)
	require.NoError(t, err, "close must release the lock")
	defer reopened.Close()
	all, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, second.ID, all[0].ID)
	require.Equal(t, testRecord("second").Body, all[0].Body)
}

func TestFileQueueReopenContinuesSequence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.json")
	q, err := OpenFileQueue(path, 4)
	require.NoError(t, err)
	first, err := q.Append(ctx, testRecord("first"))
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, first.ID))
	require.NoError(t, q.Close())

	reopened, err := OpenFileQueue(path, 4)
	require.NoError(t, err)
	defer reopened.Close()
	next, err := reopened.Append(ctx, testRecord("next"))
	require.NoError(t, err)
	require.Greater(t, next.Seq, first.Seq)

	_, err = OpenFileQueue(path, 4)
	require.ErrorIs(t, err, backend.ErrLocked)
}

func TestBuildFromDSNSelectsQueue(t *testing.T) {
	dir := t.TempDir()
	mr := miniredis.RunT(t)
	cases := []struct {
		dsn  string
		want any
	}{
		{dsn: "memory://", want: &MemoryQueue{}},
		{dsn: filepath.Join(dir, "outbox.json"), want: &FileQueue{}},
		{dsn: "sqlite://" + filepath.Join(dir, "outbox.db"), want: &SQLiteQueue{}},
		{dsn: "postgres://localhost/outbox?sslmode=disable", want: &PostgresQueue{}},
		{dsn: "redis://" + mr.Addr(), want: &RedisQueue{}},
	}
	for _, tc := range cases {
		q, err := BuildFromDSN(tc.dsn, 3)
		require.NoError(t, err, tc.dsn)
		require.IsType(t, tc.want, q, tc.dsn)
		require.Equal(t, 3, q.Capacity())
		require.NoError(t, q.Close())
	}

	_, err := BuildFromDSN("kafka://broker/outbox", 3)
	require.ErrorContains(t, err, "unsupported")
}

func TestPostgresQueueIntegration(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STORYSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("STORYSYNC_TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	q, err := NewPostgresQueue(dsn, 16)
	require.NoError(t, err)
	defer q.Close()

	appended, err := q.Append(ctx, testRecord("pg"))
	require.NoError(t, err)
	head, ok, err := q.Peek(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testRecord("pg").Body, head.Body)
	require.NoError(t, q.Remove(ctx, appended.ID))
}
