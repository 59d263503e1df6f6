package sqlbulk_test

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbulk"
	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/familytree"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/staging"
	"github.com/roach88/sqlbulk/internal/testutil"
)

func TestNew(t *testing.T) {
	s := testutil.OpenSQLite(t)

	_, err := sqlbulk.New(s.DB(), nil)
	assert.Error(t, err)

	_, err = sqlbulk.New(nil, dialect.SQLite())
	assert.Error(t, err)

	_, err = sqlbulk.New(s.DB(), dialect.SQLite(), sqlbulk.WithBatchSize(0))
	assert.ErrorContains(t, err, "invalid options")

	r, err := sqlbulk.New(s.DB(), dialect.SQLite())
	require.NoError(t, err)
	assert.Equal(t, sqlbulk.Options{
		BatchSize:    50000,
		MaxAttempts:  3,
		RetryDelay:   50 * time.Millisecond,
		IncludeChunk: 500,
	}, r.Options())
	assert.Equal(t, "sqlite", r.Dialect().Name())
}

func TestParseOptions(t *testing.T) {
	testCases := []struct {
		name    string
		input   map[string]any
		want    sqlbulk.Options
		wantErr bool
	}{
		{
			name:  "defaults",
			input: nil,
			want:  sqlbulk.DefaultOptions(),
		},
		{
			name: "overrides with loose types",
			input: map[string]any{
				"batch_size":   "4",
				"max_attempts": 5,
				"retry_delay":  "10ms",
			},
			want: sqlbulk.Options{BatchSize: 4, MaxAttempts: 5, RetryDelay: 10 * time.Millisecond, IncludeChunk: 500},
		},
		{
			name:    "zero batch size",
			input:   map[string]any{"batch_size": 0},
			wantErr: true,
		},
		{
			name:    "too many attempts",
			input:   map[string]any{"max_attempts": 1000},
			wantErr: true,
		},
		{
			name:    "bad duration",
			input:   map[string]any{"retry_delay": "soon"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sqlbulk.ParseOptions(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestError(t *testing.T) {
	err := &sqlbulk.Error{
		Code:   sqlbulk.CodeBulkOperation,
		Op:     "delete",
		Entity: "FamilyTree",
		Err:    errors.New("disk full"),
	}
	assert.Equal(t, "bulk delete FamilyTree: BULK_OPERATION: disk full", err.Error())
	assert.ErrorIs(t, err, sqlbulk.ErrBulkOperation)
	assert.NotErrorIs(t, err, sqlbulk.ErrCorrelation)
	assert.True(t, sqlbulk.IsBulkOperation(err))
	assert.False(t, sqlbulk.IsBulkOperation(errors.New("plain")))
	assert.Equal(t, "disk full", errors.Unwrap(err).Error())
}

func TestSchemaResolutionErrors(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	type unmapped struct {
		Id uuid.UUID `bulk:",pk"`
	}
	type keyless struct {
		Name string
	}
	r.Mapper().Register(reflect.TypeFor[keyless](), "Keyless")

	_, err := sqlbulk.BulkSelect[int](ctx, r, idMatches(familytree.SimpleTrees(1, "Tomato", true, testNow)), nil)
	assert.True(t, sqlbulk.IsSchemaResolution(err), "got %v", err)

	_, err = sqlbulk.BulkSelect[unmapped](ctx, r, []idMatch{{uuid.New()}}, nil)
	assert.True(t, sqlbulk.IsSchemaResolution(err), "got %v", err)
	assert.Contains(t, err.Error(), "not mapped to a table")

	err = sqlbulk.BulkDelete[keyless](ctx, r, []struct{ Name string }{{"x"}})
	assert.True(t, sqlbulk.IsSchemaResolution(err), "got %v", err)

	err = sqlbulk.BulkCreate(ctx, r, []unmapped{{Id: uuid.New()}})
	assert.ErrorIs(t, err, sqlbulk.ErrSchemaResolution)
}

func TestRetry_RecoversAndClearsStaging(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)
	d := newFlaky(2)
	r := setupOn(t, s, d)

	trees := familytree.SimpleTrees(5, "Tomato", true, testNow)
	createTrees(t, r, trees)

	got, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, idMatches(trees), nil)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	assert.Equal(t, 3, d.calls)
	assert.Equal(t, []int{0, 0, 0}, d.staged, "staging is cleared before every attempt")
	assert.Empty(t, testutil.TempTables(t, s))
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)
	d := newFlaky(-1)
	r := setupOn(t, s, d)

	trees := familytree.SimpleTrees(3, "Tomato", true, testNow)
	createTrees(t, r, trees)

	changes := []genderChange{{Id: trees[0].Id, Gender: "Kiwi"}}
	err := sqlbulk.BulkUpdate[familytree.FamilyTree](ctx, r, changes)
	require.Error(t, err)
	assert.True(t, sqlbulk.IsTransientWriteConflict(err), "got %v", err)
	assert.Equal(t, 3, d.calls)
	assert.Equal(t, []int{0, 0, 0}, d.staged)
	assert.Empty(t, testutil.TempTables(t, s), "staging dropped after failure")

	kiwis, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, setupOn(t, s, s.Dialect()), []struct{ Gender string }{{"Kiwi"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, kiwis)
}

func TestRetry_MaxAttemptsOption(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)
	d := newFlaky(-1)
	r := setupOn(t, s, d, sqlbulk.WithMaxAttempts(5))

	err := sqlbulk.BulkDelete[familytree.FamilyTree](ctx, r, []idMatch{{uuid.New()}})
	assert.True(t, sqlbulk.IsTransientWriteConflict(err))
	assert.Equal(t, 5, d.calls)
}

func TestRetry_FatalAbortsImmediately(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)
	d := newFlaky(-1)
	d.fail = errors.New("disk on fire")
	r := setupOn(t, s, d)

	err := sqlbulk.BulkDelete[familytree.FamilyTree](ctx, r, []idMatch{{uuid.New()}})
	require.Error(t, err)
	assert.True(t, sqlbulk.IsBulkOperation(err))
	assert.ErrorContains(t, err, "disk on fire")
	assert.Equal(t, 1, d.calls)
	assert.Empty(t, testutil.TempTables(t, s))
}

func TestStaging_NamedPerOperation(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)

	var created []string
	d := &namingDialect{Dialect: dialect.SQLite(), created: &created}
	r := setupOn(t, s, d, sqlbulk.WithNamer(staging.NewFixedNamer("a1", "b2", "c3")))

	trees := familytree.SimpleTrees(2, "Tomato", true, testNow)
	createTrees(t, r, trees)

	_, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, idMatches(trees), nil)
	require.NoError(t, err)
	require.NoError(t, sqlbulk.BulkUpdate[familytree.FamilyTree](ctx, r, []genderChange{{trees[0].Id, "Kiwi"}}))
	require.NoError(t, sqlbulk.BulkDelete[familytree.FamilyTree](ctx, r, idMatches(trees)))

	assert.Equal(t, []string{"bulk_select_a1", "bulk_update_b2", "bulk_delete_c3"}, created)
	assert.Empty(t, testutil.TempTables(t, s))
}

// namingDialect records the staging tables written to.
type namingDialect struct {
	dialect.Dialect
	created *[]string
}

func (d *namingDialect) CopyFrom(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error) {
	if strings.HasPrefix(table, "bulk_") {
		*d.created = append(*d.created, table)
	}
	return d.Dialect.CopyFrom(ctx, conn, table, columns, rows)
}

func TestWithConn(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)
	require.NoError(t, familytree.Install(ctx, s, schema.NewMapper()))

	conn, err := s.DB().Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	r, err := sqlbulk.New(nil, dialect.SQLite(), sqlbulk.WithConn(conn))
	require.NoError(t, err)

	trees := familytree.SimpleTrees(3, "Tomato", true, testNow)
	require.NoError(t, sqlbulk.BulkCreate(ctx, r, trees))
	got, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, idMatches(trees), nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	var temp int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_temp_master WHERE type = 'table'").Scan(&temp))
	assert.Zero(t, temp, "staging dropped on the caller's connection")
	require.NoError(t, conn.PingContext(ctx), "caller's connection stays open")
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	r, s := setup(t, sqlbulk.WithBatchSize(3))

	trees := familytree.SimpleTrees(12, "Tomato", true, testNow)
	createTrees(t, r, trees)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			part := trees[i*3 : (i+1)*3]
			changes := make([]genderChange, len(part))
			for j, tr := range part {
				changes[j] = genderChange{Id: tr.Id, Gender: "Kiwi"}
			}
			errs[i] = sqlbulk.BulkUpdate[familytree.FamilyTree](ctx, r, changes)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	kiwis, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, []struct{ Gender string }{{"Kiwi"}}, nil)
	require.NoError(t, err)
	assert.Len(t, kiwis, 12)
	assert.Empty(t, testutil.TempTables(t, s))
}

func TestCancelledContext(t *testing.T) {
	r, s := setup(t)
	trees := familytree.SimpleTrees(2, "Tomato", true, testNow)
	createTrees(t, r, trees)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, idMatches(trees), nil)
	require.Error(t, err)
	assert.True(t, sqlbulk.IsBulkOperation(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, testutil.TempTables(t, s))
}

func TestNilMatchObject(t *testing.T) {
	ctx := context.Background()
	r, s := setup(t)

	trees := familytree.SimpleTrees(2, "Tomato", true, testNow)
	createTrees(t, r, trees)
	matches := []*idMatch{{trees[0].Id}, nil, {trees[1].Id}}

	testCases := []struct {
		name string
		run  func() error
	}{
		{
			name: "select",
			run: func() error {
				_, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, matches, nil)
				return err
			},
		},
		{
			name: "update",
			run: func() error {
				return sqlbulk.BulkUpdate[familytree.FamilyTree](ctx, r, []*genderChange{{trees[0].Id, "Kiwi"}, nil})
			},
		},
		{
			name: "delete",
			run: func() error {
				return sqlbulk.BulkDelete[familytree.FamilyTree](ctx, r, matches)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.True(t, sqlbulk.IsCorrelation(err), "got %v", err)
			assert.ErrorContains(t, err, "is nil")
		})
	}

	got, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, []*idMatch{{trees[0].Id}, {trees[1].Id}}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, tr := range got {
		assert.Equal(t, "Tomato", tr.Gender, "nothing was updated")
	}
	assert.Empty(t, testutil.TempTables(t, s))
}

func TestPanicReleasesConnection(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name  string
		table string // prefix of the table whose transfer panics
		run   func(r *sqlbulk.Repository, trees []familytree.FamilyTree)
	}{
		{
			name:  "select",
			table: "bulk_",
			run: func(r *sqlbulk.Repository, trees []familytree.FamilyTree) {
				_, _ = sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, idMatches(trees), nil)
			},
		},
		{
			name:  "delete",
			table: "bulk_",
			run: func(r *sqlbulk.Repository, trees []familytree.FamilyTree) {
				_ = sqlbulk.BulkDelete[familytree.FamilyTree](ctx, r, idMatches(trees))
			},
		},
		{
			name:  "create",
			table: "FamilyTrees",
			run: func(r *sqlbulk.Repository, trees []familytree.FamilyTree) {
				_ = sqlbulk.BulkCreate(ctx, r, familytree.SimpleTrees(1, "Kiwi", true, testNow))
			},
		},
		{
			name:  "create and return",
			table: "FamilyTrees",
			run: func(r *sqlbulk.Repository, trees []familytree.FamilyTree) {
				_, _ = sqlbulk.BulkCreateAndReturn(ctx, r, familytree.SimpleTrees(1, "Kiwi", true, testNow))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := testutil.OpenSQLite(t)
			plain := setupOn(t, s, s.Dialect())
			trees := familytree.SimpleTrees(3, "Tomato", true, testNow)
			createTrees(t, plain, trees)

			d := &panicDialect{Dialect: dialect.SQLite(), prefix: tc.table}
			r := setupOn(t, s, d)
			assert.Panics(t, func() { tc.run(r, trees) })

			// The store allows one open connection; a leaked one would block here.
			assert.Empty(t, testutil.TempTables(t, s))
			got, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, plain, idMatches(trees), nil)
			require.NoError(t, err)
			assert.Len(t, got, 3)
		})
	}
}

// panicDialect panics on transfers into tables with the given prefix.
type panicDialect struct {
	dialect.Dialect
	prefix string
}

func (d *panicDialect) CopyFrom(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error) {
	if strings.HasPrefix(table, d.prefix) {
		panic("transfer into " + table)
	}
	return d.Dialect.CopyFrom(ctx, conn, table, columns, rows)
}
