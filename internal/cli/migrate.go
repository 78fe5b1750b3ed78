package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crvs/internal/platform/database"
)

type MigrateOptions struct {
	*RootOptions
	Print bool
}

// MigrateResult reports how many DDL statements were applied.
type MigrateResult struct {
	Statements int `json:"statements"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("schema applied (%d statements)", r.Statements)
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the record store schema",
		Long: `Apply the PostgreSQL schema for records, lifecycle entries, the audit
trail, the audit outbox and the stale projection set. Every statement is
idempotent, so running migrate twice is safe.

Examples:
  DATABASE_URL=postgres://... workflowctl migrate
  workflowctl migrate --print > schema.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Print, "print", false, "print the schema instead of applying it")
	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	if opts.Print {
		_, err := fmt.Fprint(cmd.OutOrStdout(), database.Schema())
		return err
	}

	b, err := opts.backends(cmd)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.DB == nil {
		return NewExitError(ExitCommandError, "migrate requires DATABASE_URL")
	}

	n, err := database.Migrate(cmd.Context(), b.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "migration failed", err)
	}
	return opts.formatter(cmd).Success(MigrateResult{Statements: n})
}
