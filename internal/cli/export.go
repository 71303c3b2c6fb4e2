package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"qrattend/internal/config"
	"qrattend/internal/report"
	"qrattend/internal/store"
)

func newExportCmd(load func() config.App) *cobra.Command {
	var (
		sessionID string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a session's attendance as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				return errors.New("--session is required")
			}
			return withDB(cmd.Context(), load(), func(db *store.DB) error {
				repo := store.NewRepository(db.Client)
				sess, err := repo.GetSession(cmd.Context(), sessionID)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("session %s not found", sessionID)
				}
				if err != nil {
					return err
				}
				records, err := repo.ListAttendance(cmd.Context(), sessionID)
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					if output == "auto" {
						output = report.Filename(sess)
					}
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if err := report.WriteCSV(w, sess, records); err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d records to %s\n", len(records), output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVarP(&output, "output", "o", "", `output file ("auto" names it after the session; default stdout)`)
	return cmd
}
