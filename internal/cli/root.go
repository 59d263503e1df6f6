package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	ConfigPath string
	Driver     string // overrides database.driver when set
	DSN        string // overrides database.dsn when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the sqlbulk CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sqlbulk",
		Short: "Bulk relational data movement through staging tables",
		Long: `sqlbulk moves large row sets between Go values and a relational store
in a constant number of round trips per batch, staging match objects in a
temporary table and joining the destination against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $SQLBULK_CONFIG_FILE_PATH or ./sqlbulk.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|sqlite|pgx)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "database DSN")

	// Add subcommands
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewModelCommand(opts))

	return cmd
}

// Execute runs the CLI and reports a failure in the selected output format.
func Execute(ctx context.Context) error {
	return execute(ctx, NewRootCommand())
}

func execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	verbose, _ := cmd.PersistentFlags().GetBool("verbose")
	out := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout(), Verbose: verbose}
	if format == "text" || !slices.Contains(ValidFormats, format) {
		out.Format, out.Writer = "text", cmd.ErrOrStderr()
	}
	var details any
	if verbose {
		details = fmt.Sprintf("exit code %d", GetExitCode(err))
	}
	_ = out.Error(ErrorCode(err), err.Error(), details)
	return err
}
