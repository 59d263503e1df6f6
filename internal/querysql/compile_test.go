package querysql_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/queryir"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/shape"
)

var familyColumns = map[string]string{
	"Id":     "Id",
	"Name":   "Name",
	"Gender": "Gender",
	"HomeId": "Home_Id",
}

func resolveFamily(property string) (string, bool) {
	col, ok := familyColumns[property]
	return col, ok
}

func dialects() []dialect.Dialect {
	return []dialect.Dialect{dialect.SQLite(), dialect.Postgres()}
}

func assertGolden(t *testing.T, name, sql string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(sql+"\n"))
}

func TestCompile_Golden(t *testing.T) {
	for _, d := range dialects() {
		c := querysql.NewCompiler(d)

		t.Run(d.Name()+"/create_temporary", func(t *testing.T) {
			idType, err := d.ColumnType(shape.KindUUID, false)
			require.NoError(t, err)
			nameType, err := d.ColumnType(shape.KindText, false)
			require.NoError(t, err)

			sql, err := c.CreateTemporary("bulk_update_0190", []querysql.ColumnDef{
				{Name: "Id", Type: idType},
				{Name: "Name", Type: nameType},
			})
			require.NoError(t, err)
			assertGolden(t, "create_temporary_"+d.Name(), sql)
		})

		t.Run(d.Name()+"/insert", func(t *testing.T) {
			sql, err := c.Insert("bulk_update_0190", []string{"Id", "Name"}, 2)
			require.NoError(t, err)
			assertGolden(t, "insert_"+d.Name(), sql)
		})

		t.Run(d.Name()+"/select", func(t *testing.T) {
			sql, params, err := c.Select(querysql.Select{
				Table:   "FamilyTree",
				Columns: []string{"Id", "Name", "Gender"},
				Staging: "bulk_select_0190",
				On:      []querysql.On{{Dest: "Id", Staging: "Id"}},
				Where:   queryir.Compare{Property: "Gender", Op: queryir.OpEq, Value: "Tomato"},
				Resolve: resolveFamily,
				OrderBy: []querysql.Order{{Column: "Name", Desc: true}},
				Skip:    5,
				Take:    10,
			})
			require.NoError(t, err)
			assert.Equal(t, []any{"Tomato"}, params)
			assertGolden(t, "select_"+d.Name(), sql)
		})

		t.Run(d.Name()+"/select_filter", func(t *testing.T) {
			sql, params, err := c.Select(querysql.Select{
				Table:   "FamilyTree",
				Columns: []string{"Id"},
				Where: queryir.And{Predicates: []queryir.Predicate{
					queryir.Or{Predicates: []queryir.Predicate{
						queryir.Compare{Property: "Gender", Op: queryir.OpEq, Value: "Tomato"},
						queryir.In{Property: "Name", Values: []any{"A", "B"}},
					}},
					queryir.Null{Property: "HomeId", Negate: true},
				}},
				Resolve: resolveFamily,
			})
			require.NoError(t, err)
			assert.Equal(t, []any{"Tomato", "A", "B"}, params)
			assertGolden(t, "select_filter_"+d.Name(), sql)
		})

		t.Run(d.Name()+"/update", func(t *testing.T) {
			sql, err := c.Update(querysql.Update{
				Table:   "FamilyTree",
				Staging: "bulk_update_0190",
				On:      []querysql.On{{Dest: "Id", Staging: "Id"}},
				Set: []querysql.On{
					{Dest: "Name", Staging: "Name"},
					{Dest: "Gender", Staging: "Gender"},
				},
			})
			require.NoError(t, err)
			assertGolden(t, "update_"+d.Name(), sql)
		})

		t.Run(d.Name()+"/delete", func(t *testing.T) {
			sql, err := c.Delete(querysql.Delete{
				Table:   "FamilyTree",
				Staging: "bulk_delete_0190",
				On:      []querysql.On{{Dest: "Id", Staging: "Id"}},
			})
			require.NoError(t, err)
			assertGolden(t, "delete_"+d.Name(), sql)
		})
	}
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	c := querysql.NewCompiler(dialect.SQLite())

	injection := "x'; DROP TABLE FamilyTree; --"
	sql, params, err := c.Select(querysql.Select{
		Table:   "FamilyTree",
		Columns: []string{"Id"},
		Where:   &queryir.Compare{Property: "Name", Op: queryir.OpNe, Value: injection},
		Resolve: resolveFamily,
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, `SELECT d."Id" FROM "FamilyTree" AS d WHERE d."Name" <> ?`, sql)
	assert.Equal(t, []any{injection}, params)
}

func TestCompile_PredicateForms(t *testing.T) {
	c := querysql.NewCompiler(dialect.Postgres())

	testCases := []struct {
		name   string
		where  queryir.Predicate
		want   string
		params []any
	}{
		{
			name:  "empty in matches nothing",
			where: queryir.In{Property: "Name"},
			want:  "1 = 0",
		},
		{
			name:  "empty and matches everything",
			where: queryir.And{},
			want:  "1 = 1",
		},
		{
			name:  "empty or matches nothing",
			where: &queryir.Or{},
			want:  "1 = 0",
		},
		{
			name:   "not",
			where:  queryir.Not{Predicate: queryir.Compare{Property: "Gender", Op: queryir.OpLt, Value: "M"}},
			want:   `NOT (d."Gender" < $1)`,
			params: []any{"M"},
		},
		{
			name:  "is null",
			where: &queryir.Null{Property: "HomeId"},
			want:  `d."Home_Id" IS NULL`,
		},
		{
			name: "single element junction is not wrapped",
			where: queryir.And{Predicates: []queryir.Predicate{
				queryir.Compare{Property: "Id", Op: queryir.OpGe, Value: 3},
			}},
			want:   `d."Id" >= $1`,
			params: []any{3},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql, params, err := c.Select(querysql.Select{
				Table:   "FamilyTree",
				Columns: []string{"Id"},
				Where:   tc.where,
				Resolve: resolveFamily,
			})
			require.NoError(t, err)
			assert.Equal(t, `SELECT d."Id" FROM "FamilyTree" AS d WHERE `+tc.want, sql)
			assert.Equal(t, tc.params, params)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	c := querysql.NewCompiler(dialect.SQLite())

	t.Run("select without columns", func(t *testing.T) {
		_, _, err := c.Select(querysql.Select{Table: "FamilyTree"})
		assert.ErrorContains(t, err, "no columns")
	})

	t.Run("unknown filter property", func(t *testing.T) {
		_, _, err := c.Select(querysql.Select{
			Table:   "FamilyTree",
			Columns: []string{"Id"},
			Where:   queryir.Compare{Property: "Nope", Op: queryir.OpEq, Value: 1},
			Resolve: resolveFamily,
		})
		assert.ErrorContains(t, err, `unknown property "Nope"`)
	})

	t.Run("filter without resolver", func(t *testing.T) {
		_, _, err := c.Select(querysql.Select{
			Table:   "FamilyTree",
			Columns: []string{"Id"},
			Where:   queryir.Null{Property: "Name"},
		})
		assert.ErrorContains(t, err, "without a property resolver")
	})

	t.Run("invalid operator", func(t *testing.T) {
		_, _, err := c.Select(querysql.Select{
			Table:   "FamilyTree",
			Columns: []string{"Id"},
			Where:   queryir.Compare{Property: "Id", Op: "LIKE", Value: "%"},
			Resolve: resolveFamily,
		})
		assert.ErrorContains(t, err, "unsupported operator")
	})

	t.Run("not without operand", func(t *testing.T) {
		_, _, err := c.Select(querysql.Select{
			Table:   "FamilyTree",
			Columns: []string{"Id"},
			Where:   queryir.Not{},
			Resolve: resolveFamily,
		})
		assert.ErrorContains(t, err, "NOT without operand")
	})

	t.Run("staged select without correlation", func(t *testing.T) {
		_, _, err := c.Select(querysql.Select{Table: "FamilyTree", Columns: []string{"Id"}, Staging: "s"})
		assert.ErrorContains(t, err, "no correlation columns")
	})

	t.Run("update without keys", func(t *testing.T) {
		_, err := c.Update(querysql.Update{Table: "FamilyTree", Staging: "s", Set: []querysql.On{{Dest: "Name", Staging: "Name"}}})
		assert.ErrorContains(t, err, "no key columns")
	})

	t.Run("update without assignments", func(t *testing.T) {
		_, err := c.Update(querysql.Update{Table: "FamilyTree", Staging: "s", On: []querysql.On{{Dest: "Id", Staging: "Id"}}})
		assert.ErrorContains(t, err, "no assigned columns")
	})

	t.Run("delete without correlation", func(t *testing.T) {
		_, err := c.Delete(querysql.Delete{Table: "FamilyTree", Staging: "s"})
		assert.ErrorContains(t, err, "no correlation columns")
	})

	t.Run("insert without rows", func(t *testing.T) {
		_, err := c.Insert("t", []string{"Id"}, 0)
		assert.Error(t, err)
	})

	t.Run("create without columns", func(t *testing.T) {
		_, err := c.CreateTemporary("t", nil)
		assert.Error(t, err)
	})
}

func TestCompile_DropAndClear(t *testing.T) {
	sqlite := querysql.NewCompiler(dialect.SQLite())
	pg := querysql.NewCompiler(dialect.Postgres())

	assert.Equal(t, `DROP TABLE IF EXISTS "bulk_select_0190"`, sqlite.DropTable("bulk_select_0190"))
	assert.Equal(t, `DELETE FROM "bulk_select_0190"`, sqlite.ClearTable("bulk_select_0190"))
	assert.Equal(t, `TRUNCATE TABLE "bulk_select_0190"`, pg.ClearTable("bulk_select_0190"))
}

func TestCompile_CreateTable(t *testing.T) {
	c := querysql.NewCompiler(dialect.SQLite())

	sql, err := c.CreateTable("FamilyTreeLink", []querysql.ColumnDef{
		{Name: "PrimarySiblingId", Type: "TEXT NOT NULL"},
		{Name: "SecondarySiblingId", Type: "TEXT NOT NULL"},
	}, []string{"PrimarySiblingId", "SecondarySiblingId"})
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "FamilyTreeLink" ("PrimarySiblingId" TEXT NOT NULL, "SecondarySiblingId" TEXT NOT NULL, PRIMARY KEY ("PrimarySiblingId", "SecondarySiblingId"))`, sql)

	sql, err = c.CreateTable("FamilyNotes", []querysql.ColumnDef{{Name: "Id", Type: "INTEGER PRIMARY KEY"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "FamilyNotes" ("Id" INTEGER PRIMARY KEY)`, sql)

	_, err = c.CreateTable("Empty", nil, nil)
	assert.Error(t, err)
}
