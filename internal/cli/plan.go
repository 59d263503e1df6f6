package cli

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlbulk"
	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/schema"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Match   []string
	Rows    int
	Where   []string
	Order   []string
	Skip    int
	Take    int
	Include []string
	Model   string
}

// planReport renders a plan as text.
type planReport struct {
	sqlbulk.Plan `yaml:",inline"`
}

func (p planReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (table %s, %s, %d batches)\n", p.Op, p.Entity, p.Table, p.Dialect, p.Batches)
	if p.Staging != "" {
		fmt.Fprintf(&b, "staging: %s [%s]\n", p.Staging, strings.Join(p.Columns, ", "))
	}
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, s.Purpose, s.SQL)
		if len(s.Params) > 0 {
			fmt.Fprintf(&b, "   params: %v\n", s.Params)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <create|select|update|delete> <entity>",
		Short: "Show the statements a bulk operation would run",
		Long: `Render the staging protocol for one operation without touching the store.

The match object is built from the --match property names, typed like the
entity's fields. Filter flags apply to select only.

Example:
  sqlbulk plan update FamilyTree --match Id,Gender --rows 120000 --driver pgx
  sqlbulk plan select FamilyTree --match Gender --where IsAlive=true --order -Birthdate --take 10
  sqlbulk plan create FamilyNote`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Match, "match", "m", nil, "match object properties (comma separated)")
	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", 1, "number of items the operation would receive")
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "equality filter Property=value (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Order, "order", nil, "sort properties, prefix - for descending")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "rows to skip per batch")
	cmd.Flags().IntVar(&opts.Take, "take", 0, "rows to take per batch (0 = all)")
	cmd.Flags().StringSliceVar(&opts.Include, "include", nil, "relations to load")
	cmd.Flags().StringVar(&opts.Model, "model", "", "CUE entity model overlaying the struct tags")

	return cmd
}

func runPlan(opts *PlanOptions, opName, entityName string, cmd *cobra.Command) error {
	op, err := parseOp(opName)
	if err != nil {
		return err
	}
	entity, err := entityType(entityName)
	if err != nil {
		return err
	}

	sess, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	repoOpts, err := sess.cfg.Options()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid repository options", err)
	}
	m, err := mapper(opts.Model)
	if err != nil {
		return err
	}
	d, err := dialect.ByName(sess.cfg.Database.Driver)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown driver", err)
	}

	// sql.Open does not connect.
	dsn, err := sess.dsn()
	if err != nil {
		return err
	}
	db, err := sql.Open(sess.cfg.Database.Driver, dsn)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	repo, err := sqlbulk.New(db, d,
		sqlbulk.WithOptions(*repoOpts),
		sqlbulk.WithMapper(m),
		sqlbulk.WithLogger(sess.log),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create repository", err)
	}

	var match reflect.Type
	if op != sqlbulk.OpCreate {
		mapping, err := m.Resolve(entity)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to resolve entity", err)
		}
		if match, err = matchType(mapping, opts.Match); err != nil {
			return err
		}
	}

	filter, err := opts.filter(op)
	if err != nil {
		return err
	}

	plan, err := repo.Plan(op, entity, match, filter, opts.Rows)
	if err != nil {
		return WrapBulkError("failed to plan "+opName, err)
	}
	sess.out.VerboseLog("planned %s %s over %d rows", plan.Op, plan.Entity, opts.Rows)
	return sess.out.Success(planReport{Plan: *plan})
}

func parseOp(name string) (sqlbulk.Op, error) {
	switch op := sqlbulk.Op(strings.ToLower(name)); op {
	case sqlbulk.OpCreate, sqlbulk.OpSelect, sqlbulk.OpUpdate, sqlbulk.OpDelete:
		return op, nil
	}
	return "", NewExitError(ExitCommandError,
		fmt.Sprintf("unknown operation %q: must be one of create, select, update, delete", name))
}

// matchType builds a struct with one field per name. Fields the entity
// resolves take the entity field's type; others are strings, which
// correlation ignores.
func matchType(m *schema.Mapping, names []string) (reflect.Type, error) {
	if len(names) == 0 {
		return nil, NewExitError(ExitCommandError, "--match is required for this operation")
	}
	fields := make([]reflect.StructField, 0, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, NewExitError(ExitCommandError, "--match contains an empty property")
		}
		typ := reflect.TypeFor[string]()
		if p, ok := m.Lookup(name); ok {
			typ = m.Type.FieldByIndex(p.Index).Type
		}
		fields = append(fields, reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: typ,
			Tag:  reflect.StructTag(fmt.Sprintf(`bulk:%q`, name)),
		})
	}
	return reflect.StructOf(fields), nil
}

// filter assembles the select filter from the flags.
func (o *PlanOptions) filter(op sqlbulk.Op) (*sqlbulk.Filter, error) {
	empty := len(o.Where) == 0 && len(o.Order) == 0 && len(o.Include) == 0 && o.Skip == 0 && o.Take == 0
	if empty {
		return nil, nil
	}
	if op != sqlbulk.OpSelect {
		return nil, NewExitError(ExitCommandError, "filter flags apply to select only")
	}

	f := &sqlbulk.Filter{Include: o.Include, Skip: o.Skip, Take: o.Take}
	var preds []sqlbulk.Predicate
	for _, w := range o.Where {
		prop, raw, ok := strings.Cut(w, "=")
		if !ok || prop == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --where %q: want Property=value", w))
		}
		value, err := scalar(raw)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --where %q", w), err)
		}
		preds = append(preds, sqlbulk.Eq(prop, value))
	}
	switch len(preds) {
	case 0:
	case 1:
		f.Where = preds[0]
	default:
		f.Where = sqlbulk.And(preds...)
	}
	for _, term := range o.Order {
		if prop, ok := strings.CutPrefix(term, "-"); ok {
			f.OrderBy = append(f.OrderBy, sqlbulk.Desc(prop))
		} else {
			f.OrderBy = append(f.OrderBy, sqlbulk.Asc(term))
		}
	}
	return f, nil
}

// scalar decodes a flag value as a YAML scalar, so true, 42 and 1.5 keep
// their types and everything else is a string.
func scalar(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case bool, int, float64, string:
		return v, nil
	}
	return raw, nil
}
