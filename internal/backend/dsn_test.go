package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDSNAndPath(t *testing.T) {
	cases := []struct {
		dsn    string
		scheme string
		path   string
	}{
		{dsn: "/var/lib/storysync/store.json", scheme: "", path: "/var/lib/storysync/store.json"},
		{dsn: "file:///var/lib/storysync/store.json", scheme: "file", path: "/var/lib/storysync/store.json"},
		{dsn: "SQLITE://data/store.db", scheme: "sqlite", path: "data/store.db"},
		{dsn: "sqlite:store.db", scheme: "sqlite", path: "store.db"},
	}
	for _, tc := range cases {
		scheme, parsed, err := ParseDSN(tc.dsn)
		require.NoError(t, err, tc.dsn)
		require.Equal(t, tc.scheme, scheme, tc.dsn)
		path, err := Path(parsed, tc.dsn)
		require.NoError(t, err, tc.dsn)
		require.Equal(t, tc.path, path, tc.dsn)
	}
}

func TestParseDSNRejectsEmpty(t *testing.T) {
	_, _, err := ParseDSN("   ")
	require.ErrorIs(t, err, ErrInvalidDSN)
}

func TestQuoteIdentifierEscapesQuotes(t *testing.T) {
	require.Equal(t, `"stories"`, QuoteIdentifier(" stories "))
	require.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
	require.Equal(t, AdvisoryLockKey("t", "k"), AdvisoryLockKey("t", "k"))
	require.NotEqual(t, AdvisoryLockKey("t", "k"), AdvisoryLockKey("tk"))
}

func TestWriteFileAtomicCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, WriteFileAtomic(path, []byte(`{"ok":true}`), 0o644))
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".state.json.tmp-*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRebindDollar(t *testing.T) {
	require.Equal(t, "a = $1 AND b = $2", RebindDollar("a = ? AND b = ?"))
}
