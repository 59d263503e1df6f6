package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/sqlbulk"
	"github.com/roach88/sqlbulk/internal/familytree"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Rows   int
	Gender string
	Model  string
}

// LoadReport is the outcome of a load run.
type LoadReport struct {
	Driver    string  `json:"driver" yaml:"driver"`
	Rows      int     `json:"rows" yaml:"rows"`
	BatchSize int     `json:"batch_size" yaml:"batch_size"`
	Phases    []Phase `json:"phases" yaml:"phases"`
}

// Phase times one bulk operation.
type Phase struct {
	Name     string        `json:"name" yaml:"name"`
	Rows     int           `json:"rows" yaml:"rows"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
}

func (r LoadReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Loaded %d rows on %s (batch size %d)\n", r.Rows, r.Driver, r.BatchSize)
	for _, p := range r.Phases {
		rate := 0.0
		if secs := p.Duration.Seconds(); secs > 0 {
			rate = float64(p.Rows) / secs
		}
		fmt.Fprintf(&b, "  %-7s %8d rows  %12s  %10.0f rows/s\n", p.Name, p.Rows, p.Duration.Round(time.Microsecond), rate)
	}
	return strings.TrimRight(b.String(), "\n")
}

type treeID struct {
	Id uuid.UUID
}

type treeGender struct {
	Id     uuid.UUID
	Gender string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run every bulk operation against generated family trees",
		Long: `Install the family tree tables, then create, select, update and delete
generated rows, timing each phase.

Example:
  sqlbulk load --rows 100000
  sqlbulk load --driver pgx --dsn postgres://localhost/bench --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", 10000, "number of family trees to generate")
	cmd.Flags().StringVar(&opts.Gender, "gender", "Tomato", "gender of generated trees")
	cmd.Flags().StringVar(&opts.Model, "model", "", "CUE entity model overlaying the struct tags")

	return cmd
}

func runLoad(ctx context.Context, opts *LoadOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Rows < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --rows %d: must not be negative", opts.Rows))
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

	st, err := sess.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := familytree.Install(ctx, st, m); err != nil {
		return WrapExitError(ExitFailure, "failed to install tables", err)
	}

	repo, err := sqlbulk.New(st.DB(), st.Dialect(),
		sqlbulk.WithOptions(*repoOpts),
		sqlbulk.WithMapper(m),
		sqlbulk.WithLogger(sess.log),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create repository", err)
	}

	trees := familytree.SimpleTrees(opts.Rows, opts.Gender, true, time.Now())
	ids := make([]treeID, len(trees))
	changes := make([]treeGender, len(trees))
	for i, t := range trees {
		ids[i] = treeID{Id: t.Id}
		changes[i] = treeGender{Id: t.Id, Gender: "Passion Fruit"}
	}

	report := LoadReport{Driver: st.Driver(), Rows: opts.Rows, BatchSize: repoOpts.BatchSize}
	phase := func(name string, fn func() (int, error)) error {
		start := time.Now()
		n, err := fn()
		if err != nil {
			return WrapBulkError(name+" failed", err)
		}
		p := Phase{Name: name, Rows: n, Duration: time.Since(start)}
		sess.log.Info("phase complete", "phase", p.Name, "rows", p.Rows, "duration", p.Duration)
		report.Phases = append(report.Phases, p)
		return nil
	}

	steps := []struct {
		name string
		fn   func() (int, error)
	}{
		{"create", func() (int, error) {
			return len(trees), sqlbulk.BulkCreate(ctx, repo, trees)
		}},
		{"select", func() (int, error) {
			found, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, repo, ids, nil)
			if err == nil && len(found) != len(trees) {
				err = fmt.Errorf("selected %d rows, want %d", len(found), len(trees))
			}
			return len(found), err
		}},
		{"update", func() (int, error) {
			return len(changes), sqlbulk.BulkUpdate[familytree.FamilyTree](ctx, repo, changes)
		}},
		{"delete", func() (int, error) {
			return len(ids), sqlbulk.BulkDelete[familytree.FamilyTree](ctx, repo, ids)
		}},
	}
	for _, s := range steps {
		if err := phase(s.name, s.fn); err != nil {
			return err
		}
	}

	return sess.out.Success(report)
}
