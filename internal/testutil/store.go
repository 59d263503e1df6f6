package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbulk/internal/store"
)

// OpenSQLite opens a file-backed SQLite store in t.TempDir using the
// mattn/go-sqlite3 driver. The store is closed when the test ends.
func OpenSQLite(t *testing.T) *store.Store {
	t.Helper()
	return OpenSQLiteDriver(t, store.DriverSQLite3)
}

// OpenSQLiteDriver is OpenSQLite for an explicit SQLite driver name.
func OpenSQLiteDriver(t *testing.T, driver string) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), driver, filepath.Join(t.TempDir(), "bulk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TempTables lists the temporary tables visible on a SQLite store's connection.
func TempTables(t *testing.T, s *store.Store) []string {
	t.Helper()
	rows, err := s.DB().QueryContext(context.Background(),
		"SELECT name FROM sqlite_temp_master WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
