package cli

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/roach88/sqlbulk/internal/config"
	"github.com/roach88/sqlbulk/internal/familytree"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/store"
)

// session is the state shared by commands: resolved config, logger and
// output formatter.
type session struct {
	cfg *config.Config
	log *slog.Logger
	out *OutputFormatter
}

func newSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Database.DSN = opts.DSN
	}

	level := cfg.Log.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !cfg.Log.Color,
	}))

	return &session{
		cfg: cfg,
		log: logger,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

// dsn returns the configured DSN. SQLite falls back to a private in-memory
// database; PostgreSQL has no default.
func (s *session) dsn() (string, error) {
	if s.cfg.Database.DSN != "" {
		return s.cfg.Database.DSN, nil
	}
	if s.cfg.Database.Driver == store.DriverPgx {
		return "", NewExitError(ExitCommandError, "database.dsn is required for driver pgx")
	}
	return ":memory:", nil
}

func (s *session) open(ctx context.Context) (*store.Store, error) {
	dsn, err := s.dsn()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, s.cfg.Database.Driver, dsn)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open database", err)
	}
	s.log.Debug("database opened", "driver", s.cfg.Database.Driver, "dialect", st.Dialect().Name())
	return st, nil
}

// mapper returns a mapper overlaid with the CUE model at modelPath, if any.
// Fixture tables come from TableName so the model can rename them.
func mapper(modelPath string) (*schema.Mapper, error) {
	m := schema.NewMapper()
	if modelPath == "" {
		return m, nil
	}
	if _, err := m.LoadModel(modelPath); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load model", err)
	}
	return m, nil
}

// entityType finds a fixture entity by Go type name, ignoring case.
func entityType(name string) (reflect.Type, error) {
	var names []string
	for _, t := range familytree.Entities() {
		if strings.EqualFold(t.Name(), name) {
			return t, nil
		}
		names = append(names, t.Name())
	}
	return nil, NewExitError(ExitCommandError,
		fmt.Sprintf("unknown entity %q: must be one of %v", name, names))
}
