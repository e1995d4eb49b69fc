package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reconcile-cli/internal/model"
)

var changelogCmd = &cobra.Command{
	Use:   "changelog <session-id>",
	Short: "Print the changelog written when a session was finalized",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListChangelog(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "changelog")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No changelog entries (session not finalized?).")
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		return writeChangelog(os.Stdout, entries, format)
	},
}

func init() {
	changelogCmd.Flags().String("format", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(changelogCmd)
}

func writeChangelog(out io.Writer, entries []model.ChangelogEntry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return eris.Wrap(err, "changelog: encode yaml")
		}
		return enc.Close()
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ROW\tCOLUMN\tACTION\tORIGINAL\tAPPLIED\tBY\tREASON")
		_, _ = fmt.Fprintln(w, "---\t------\t------\t--------\t-------\t--\t------")
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.RowIndex,
				e.Column,
				e.Action,
				truncate(e.OriginalValue, 30),
				truncate(e.AppliedValue, 30),
				e.ModifiedBy,
				truncate(e.Reason, 40),
			)
		}
		return w.Flush()
	default:
		return eris.Errorf("unsupported format %q", format)
	}
}
