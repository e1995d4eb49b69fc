package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/model"
)

var changesCmd = &cobra.Command{
	Use:   "changes <session-id>",
	Short: "List a session's change records through a filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		changes, err := env.Manager.Changes(ctx, args[0], filterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "changes")
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(changes)
		case "table", "":
			if len(changes) == 0 {
				fmt.Fprintln(os.Stderr, "No matching changes.")
				return nil
			}
			formatChanges(os.Stdout, changes)
			return nil
		default:
			return eris.Errorf("unsupported format %q", format)
		}
	},
}

func init() {
	addFilterFlags(changesCmd)
	changesCmd.Flags().String("format", "table", "output format (table, json)")
	rootCmd.AddCommand(changesCmd)
}

// formatChanges writes change records as a table.
func formatChanges(out io.Writer, changes []model.ChangeRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tROW\tCOLUMN\tCATEGORY\tORIGINAL\tVALUE\tCONF\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t--------\t--------\t-----\t----\t------")
	for i := range changes {
		c := &changes[i]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			truncateID(c.ID),
			c.RowIndex,
			c.Column,
			c.Category,
			truncate(c.OriginalValue, 30),
			truncate(c.EffectiveValue(), 30),
			c.Confidence,
			c.Status,
		)
	}
	_ = w.Flush()
}
