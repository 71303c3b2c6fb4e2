// Package cli implements attendctl, the operator tool for tokens, schema and reports.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"qrattend/internal/config"
	"qrattend/internal/store"
)

var version = "dev"

// SetVersion sets the version reported by --version.
func SetVersion(v string) { version = v }

// NewRootCmd builds the command tree. load supplies configuration so tests can avoid
// the environment.
func NewRootCmd(load func() config.App, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "attendctl",
		Short:         "Operate the QR attendance service",
		Long:          "attendctl issues access tokens, applies the database schema and exports session reports.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(newTokenCmd(load))
	root.AddCommand(newMigrateCmd(load))
	root.AddCommand(newExportCmd(load))
	return root
}

// Execute runs attendctl against the process environment.
func Execute(ctx context.Context, out io.Writer, args []string) error {
	root := NewRootCmd(config.Load, out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// withDB opens and migrates the configured database for the duration of fn.
func withDB(ctx context.Context, cfg config.App, fn func(*store.DB) error) error {
	db, err := store.NewDB(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return fn(db)
}
