package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/model"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize <session-id>",
	Short: "Apply all decisions and commit the cleaned snapshot and changelog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Manager.Finalize(ctx, args[0], reviewerFlag(cmd))
		if err != nil {
			var pending *model.PendingReviewsError
			if errors.As(err, &pending) {
				return eris.Errorf("finalize: %d change(s) still need review; decide them first", pending.Count)
			}
			return eris.Wrap(err, "finalize")
		}

		formatFinalizeResult(os.Stdout, res)
		return nil
	},
}

func init() {
	finalizeCmd.Flags().String("reviewer", "", "identity recorded on auto-accepted changelog entries (default from config)")
	rootCmd.AddCommand(finalizeCmd)
}

// formatFinalizeResult writes a finalize summary to w.
func formatFinalizeResult(out io.Writer, r *model.FinalizeResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Session:\t%s\n", r.SessionID)
	_, _ = fmt.Fprintf(w, "Cleaned snapshot:\t%s\n", r.CleanedRef)
	_, _ = fmt.Fprintf(w, "Finalized at:\t%s\n", r.FinalizedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "Rows modified:\t%d of %d\n", r.RowsModified, r.RowsTotal)
	_, _ = fmt.Fprintf(w, "Cells modified:\t%d\n", r.CellsModified)
	_, _ = fmt.Fprintf(w, "Accepted:\t%d\n", r.Accepted)
	_, _ = fmt.Fprintf(w, "Auto-accepted:\t%d\n", r.AutoAccepted)
	_, _ = fmt.Fprintf(w, "Overridden:\t%d\n", r.Overridden)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", r.Rejected)
	_, _ = fmt.Fprintf(w, "Changelog entries:\t%d\n", len(r.Changelog))
	_ = w.Flush()
}
