package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/compare"
	"github.com/sells-group/reconcile-cli/internal/model"
)

var compareCmd = &cobra.Command{
	Use:   "compare [original-ref] [cleaned-ref]",
	Short: "Compare two snapshots cell by cell",
	Long:  "Compares two stored snapshots. With --session, refs default to the session's source and cleaned snapshots and --category uses the session's change records.",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var original, cleaned string
		if len(args) > 0 {
			original = args[0]
		}
		if len(args) > 1 {
			cleaned = args[1]
		}

		opts := compare.Options{Engine: env.Engine}
		if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
			sess, err := env.Manager.Session(ctx, sessionID)
			if err != nil {
				return eris.Wrap(err, "compare")
			}
			if original == "" {
				original = sess.SourceRef
			}
			if cleaned == "" {
				cleaned = sess.CleanedRef
			}
			opts.Changes = sess.Changes
		}
		if original == "" || cleaned == "" {
			return eris.New("compare: original and cleaned refs are required (or a finalized --session)")
		}
		if set := categoryFilter(cmd); set.HasCategories() {
			opts.Filter = &set
		}

		res, err := compare.Refs(ctx, env.Store, original, cleaned, cfg.Review.PageSize, opts)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		case "table", "":
			all, _ := cmd.Flags().GetBool("all")
			formatComparison(os.Stdout, res, all)
			return nil
		default:
			return eris.Errorf("unsupported format %q", format)
		}
	},
}

func init() {
	compareCmd.Flags().String("session", "", "session whose snapshots and records to use")
	compareCmd.Flags().StringSlice("category", nil, "restrict to rows touched by these categories")
	compareCmd.Flags().String("format", "table", "output format (table, json)")
	compareCmd.Flags().Bool("all", false, "list unchanged cells too")
	rootCmd.AddCommand(compareCmd)
}

// formatComparison writes changed cells (or every cell with all) and a summary.
func formatComparison(out io.Writer, res *model.ComparisonResult, all bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tCOLUMN\tORIGINAL\tCLEANED\tCHANGED")
	_, _ = fmt.Fprintln(w, "---\t------\t--------\t-------\t-------")
	for _, row := range res.Rows {
		cols := make([]string, 0, len(row.Cells))
		for c := range row.Cells {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			cell := row.Cells[c]
			if cell.Equal && !all {
				continue
			}
			changed := ""
			if !cell.Equal {
				changed = "*"
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				row.RowIndex, c, truncate(cell.Original, 30), truncate(cell.Cleaned, 30), changed)
		}
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d of %d cells changed in %d row(s)\n", res.TotalCellsChanged, res.TotalCellsCompared, res.RowsChanged)
	if len(res.AddedColumns) > 0 {
		fmt.Fprintf(out, "added columns: %v\n", res.AddedColumns)
	}
	if len(res.RemovedColumns) > 0 {
		fmt.Fprintf(out, "removed columns: %v\n", res.RemovedColumns)
	}
	if res.Truncated {
		fmt.Fprintf(out, "row counts differ (%d vs %d); compared the first %d\n",
			res.OriginalRows, res.CleanedRows, min(res.OriginalRows, res.CleanedRows))
	}
}
