package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbulk/internal/familytree"
	"github.com/roach88/sqlbulk/internal/schema"
)

// EntityReport describes one resolved entity mapping.
type EntityReport struct {
	Entity    string           `json:"entity" yaml:"entity"`
	Table     string           `json:"table" yaml:"table"`
	Keys      []string         `json:"keys" yaml:"keys"`
	Columns   []ColumnReport   `json:"columns" yaml:"columns"`
	Relations []RelationReport `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// ColumnReport describes one mapped property.
type ColumnReport struct {
	Property  string `json:"property" yaml:"property"`
	Column    string `json:"column" yaml:"column"`
	Kind      string `json:"kind" yaml:"kind"`
	Nullable  bool   `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Generated bool   `json:"generated,omitempty" yaml:"generated,omitempty"`
	Created   bool   `json:"created,omitempty" yaml:"created,omitempty"`
}

// RelationReport describes one navigable relation.
type RelationReport struct {
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind" yaml:"kind"` // "belongs-to" | "has-many"
	Target string `json:"target" yaml:"target"`
	Local  string `json:"local" yaml:"local"`
	Remote string `json:"remote" yaml:"remote"`
}

type modelReport []EntityReport

func (r modelReport) String() string {
	var b strings.Builder
	for i, e := range r {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s -> %s (key: %s)\n", e.Entity, e.Table, strings.Join(e.Keys, ", "))
		for _, c := range e.Columns {
			var flags []string
			if c.Nullable {
				flags = append(flags, "null")
			}
			if c.Generated {
				flags = append(flags, "generated")
			}
			if c.Created {
				flags = append(flags, "created")
			}
			fmt.Fprintf(&b, "  %-20s %-20s %-8s %s\n", c.Property, c.Column, c.Kind, strings.Join(flags, ","))
		}
		for _, rel := range e.Relations {
			fmt.Fprintf(&b, "  %-20s %s %s (%s = %s)\n", rel.Name, rel.Kind, rel.Target, rel.Local, rel.Remote)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewModelCommand creates the model command.
func NewModelCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model [model.cue]",
		Short: "Show how entities map to tables and columns",
		Long: `Resolve the family tree entities and print their tables, keys, columns
and relations. An optional CUE model overrides names declared in struct tags.

Example:
  sqlbulk model
  sqlbulk model ./model.cue --format yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runModel(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runModel(opts *RootOptions, path string, cmd *cobra.Command) error {
	sess, err := newSession(opts, cmd)
	if err != nil {
		return err
	}
	m, err := mapper(path)
	if err != nil {
		return err
	}

	var report modelReport
	for _, t := range familytree.Entities() {
		mapping, err := m.Resolve(t)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to resolve "+t.Name(), err)
		}
		e, err := entityReport(m, mapping)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to resolve "+t.Name(), err)
		}
		report = append(report, e)
	}
	return sess.out.Success(report)
}

func entityReport(mapper *schema.Mapper, m *schema.Mapping) (EntityReport, error) {
	e := EntityReport{
		Entity: m.Entity(),
		Table:  m.ResolveTableName(),
		Keys:   m.ResolvePrimaryKeyProperties(),
	}
	for _, p := range m.Properties {
		e.Columns = append(e.Columns, ColumnReport{
			Property:  p.Name,
			Column:    p.Column,
			Kind:      p.Kind.String(),
			Nullable:  p.Nullable,
			Generated: p.Generated,
			Created:   p.Created,
		})
	}
	for _, rel := range m.Relations {
		kind, remote := "has-many", rel.Remote
		if rel.Kind == schema.BelongsTo {
			// belongs-to joins on the target's key
			target, err := mapper.Resolve(rel.Target)
			if err != nil {
				return EntityReport{}, err
			}
			kind, remote = "belongs-to", strings.Join(target.ResolvePrimaryKeyProperties(), ", ")
		}
		e.Relations = append(e.Relations, RelationReport{
			Name:   rel.Name,
			Kind:   kind,
			Target: rel.Target.Name(),
			Local:  rel.Local,
			Remote: remote,
		})
	}
	return e, nil
}
