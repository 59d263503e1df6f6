package sqlbulk_test

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mattn "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbulk"
	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/familytree"
	"github.com/roach88/sqlbulk/internal/store"
	"github.com/roach88/sqlbulk/internal/testutil"
)

var testNow = time.Date(2026, 10, 19, 9, 15, 30, 0, time.UTC)

// setup opens a SQLite store with the family-tree tables and a repository over it.
func setup(t *testing.T, opts ...sqlbulk.Option) (*sqlbulk.Repository, *store.Store) {
	t.Helper()
	s := testutil.OpenSQLite(t)
	return setupOn(t, s, s.Dialect(), opts...), s
}

func setupOn(t *testing.T, s *store.Store, d dialect.Dialect, opts ...sqlbulk.Option) *sqlbulk.Repository {
	t.Helper()
	r, err := sqlbulk.New(s.DB(), d, append([]sqlbulk.Option{sqlbulk.WithRetryDelay(time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, familytree.Install(context.Background(), s, r.Mapper()))
	return r
}

func createTrees(t *testing.T, r *sqlbulk.Repository, trees []familytree.FamilyTree) {
	t.Helper()
	require.NoError(t, sqlbulk.BulkCreate(context.Background(), r, trees))
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

type idMatch struct {
	Id uuid.UUID
}

func idsOf(trees []familytree.FamilyTree) []uuid.UUID {
	ids := make([]uuid.UUID, len(trees))
	for i, tr := range trees {
		ids[i] = tr.Id
	}
	return ids
}

func idMatches(trees []familytree.FamilyTree) []idMatch {
	out := make([]idMatch, len(trees))
	for i, tr := range trees {
		out[i] = idMatch{Id: tr.Id}
	}
	return out
}

func sortedIDs(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	slices.Sort(out)
	return out
}

// flakyDialect wraps SQLite and fails staging transfers on demand.
type flakyDialect struct {
	dialect.Dialect

	mu       sync.Mutex
	failures int   // transfers to fail after writing; -1 fails forever
	fail     error // returned instead of SQLITE_BUSY when set
	calls    int
	staged   []int // staging rows present when each transfer started
}

func newFlaky(failures int) *flakyDialect {
	return &flakyDialect{Dialect: dialect.SQLite(), failures: failures}
}

func (f *flakyDialect) CopyFrom(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error) {
	if !strings.HasPrefix(table, "bulk_") {
		return f.Dialect.CopyFrom(ctx, conn, table, columns, rows)
	}

	var present int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+table+`"`).Scan(&present); err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.calls++
	f.staged = append(f.staged, present)
	fail := f.failures != 0
	if f.failures > 0 {
		f.failures--
	}
	f.mu.Unlock()

	n, err := f.Dialect.CopyFrom(ctx, conn, table, columns, rows)
	if err != nil {
		return n, err
	}
	if fail {
		if f.fail != nil {
			return 0, f.fail
		}
		return 0, mattn.Error{Code: mattn.ErrBusy}
	}
	return n, nil
}
