package familytree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/testutil"
)

var now = time.Date(2026, 10, 19, 12, 30, 45, 500, time.UTC)

func TestMappings(t *testing.T) {
	m := schema.NewMapper()

	tree, err := schema.Resolve[FamilyTree](m)
	require.NoError(t, err)
	assert.Equal(t, "FamilyTrees", tree.Table)
	assert.Equal(t, []string{"Id"}, tree.ResolvePrimaryKeyProperties())
	assert.Len(t, tree.Relations, 7)

	link, err := schema.Resolve[FamilyTreeLink](m)
	require.NoError(t, err)
	assert.Equal(t, []string{"PrimarySiblingId", "SecondarySiblingId"}, link.ResolvePrimaryKeyProperties())

	home, err := schema.Resolve[FamilyHome](m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"HomeId":       "Id",
		"Home_Name":    "Name",
		"Address":      "Address",
		"IsActive":     "IsActive",
		"CreatedDate":  "CreatedDate",
		"ModifiedDate": "ModifiedDate",
	}, home.ResolvePropertyColumns())

	note, err := schema.Resolve[FamilyNote](m)
	require.NoError(t, err)
	assert.Len(t, note.Insertable(), len(note.Properties)-1)
}

func TestRegister(t *testing.T) {
	m := schema.NewMapper()
	Register(m)

	var names []string
	for _, typ := range m.Types() {
		names = append(names, typ.Name())
	}
	assert.Equal(t, []string{"FamilyHome", "FamilyNote", "FamilyTree", "FamilyTreeLink"}, names)
}

func TestCreateStatements(t *testing.T) {
	testCases := []struct {
		dialect dialect.Dialect
		tree    string
		note    string
	}{
		{
			dialect: dialect.SQLite(),
			tree:    `PRIMARY KEY ("Id")`,
			note:    `CREATE TABLE IF NOT EXISTS "FamilyNotes" ("Id" INTEGER PRIMARY KEY, "TreeId" TEXT NOT NULL, "Body" TEXT NULL, "CreatedDate" TIMESTAMP NOT NULL)`,
		},
		{
			dialect: dialect.Postgres(),
			tree:    `"FatherId" uuid NULL`,
			note:    `CREATE TABLE IF NOT EXISTS "FamilyNotes" ("Id" bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY, "TreeId" uuid NOT NULL, "Body" text NULL, "CreatedDate" timestamptz NOT NULL)`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.dialect.Name(), func(t *testing.T) {
			stmts, err := CreateStatements(tc.dialect, schema.NewMapper())
			require.NoError(t, err)
			require.Len(t, stmts, 4)

			assert.Contains(t, stmts[0], `"HomeId"`)
			assert.Contains(t, stmts[0], `"Home_Name"`)
			assert.Contains(t, stmts[1], tc.tree)
			assert.Contains(t, stmts[2], `PRIMARY KEY ("PrimarySiblingId", "SecondarySiblingId")`)
			assert.Equal(t, tc.note, stmts[3])
		})
	}
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenSQLite(t)
	m := schema.NewMapper()

	require.NoError(t, Install(ctx, s, m))
	// Idempotent.
	require.NoError(t, Install(ctx, s, m))

	for _, table := range []string{"FamilyHome", "FamilyTrees", "FamilyTreeLink", "FamilyNotes"} {
		var n int
		require.NoError(t, s.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestSimpleTrees(t *testing.T) {
	trees := SimpleTrees(10, "Tomato", false, now)
	require.Len(t, trees, 10)

	seen := make(map[string]bool)
	for i, tree := range trees {
		assert.Equal(t, "Tomato", tree.Gender)
		assert.False(t, tree.IsAlive)
		assert.True(t, tree.IsActive)
		assert.Equal(t, now.Truncate(time.Second), tree.CreatedDate)
		assert.Equal(t, now.Truncate(time.Second).Add(-time.Duration(i)*day), tree.Birthdate)
		assert.False(t, tree.FatherId.Valid)
		seen[tree.Id.String()] = true
	}
	assert.Len(t, seen, 10)

	assert.Empty(t, SimpleTrees(0, "Tomato", true, now))
}

func TestComplexTrees(t *testing.T) {
	trees, links := ComplexTrees(4, now)
	require.Len(t, trees, 6)
	assert.Len(t, links, 12)

	father, mother := trees[4], trees[5]
	assert.Equal(t, "Strawberry", father.Gender)
	assert.Equal(t, "Banana", mother.Gender)

	for _, tree := range trees[:4] {
		assert.Equal(t, "Kiwi", tree.Gender)
		assert.Equal(t, father.Id, tree.FatherId.UUID)
		assert.Equal(t, mother.Id, tree.MotherId.UUID)
	}

	pairs := make(map[[2]string]bool)
	for _, l := range links {
		assert.NotEqual(t, l.PrimarySiblingId, l.SecondarySiblingId)
		pairs[[2]string{l.PrimarySiblingId.String(), l.SecondarySiblingId.String()}] = true
	}
	assert.Len(t, pairs, 12)
}

func TestSimpleHomesAndNotes(t *testing.T) {
	homes := SimpleHomes(3, now)
	require.Len(t, homes, 3)
	for _, h := range homes {
		assert.NotEmpty(t, h.Name)
		assert.NotEmpty(t, h.Address)
	}

	trees := SimpleTrees(2, "Tomato", true, now)
	notes := Notes(trees)
	require.Len(t, notes, 2)
	assert.Equal(t, trees[1].Id, notes[1].TreeId)
	assert.Zero(t, notes[0].Id)
	assert.NotEmpty(t, notes[0].Body)
}
