package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Import, inspect, and export dataset snapshots",
}

// -- snapshot import --

var snapshotImportCmd = &cobra.Command{
	Use:   "import <uri>",
	Short: "Import a CSV, XLSX, or JSON snapshot from a file, http(s), or ftp URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ref, _ := cmd.Flags().GetString("ref")
		formatName, _ := cmd.Flags().GetString("format")
		delimiter, _ := cmd.Flags().GetString("delimiter")
		sheet, _ := cmd.Flags().GetString("sheet")

		var format snapshot.Format
		if formatName != "" {
			if format, err = snapshot.ParseFormat(formatName); err != nil {
				return err
			}
		}

		csvOpts := snapshot.CSVOptions{LazyQuotes: true}
		switch delimiter {
		case "":
		case `\t`, "tab":
			csvOpts.Delimiter = '\t'
		default:
			r, _ := utf8.DecodeRuneInString(delimiter)
			csvOpts.Delimiter = r
		}

		snap, err := newLoader().
			WithCSV(csvOpts).
			WithXLSX(snapshot.XLSXOptions{SheetName: sheet}).
			Load(ctx, args[0], ref, format)
		if err != nil {
			return eris.Wrap(err, "snapshot import")
		}
		if err := env.Store.SaveSnapshot(ctx, snap); err != nil {
			return eris.Wrap(err, "snapshot import: save")
		}

		zap.L().Info("snapshot imported",
			zap.String("ref", snap.Ref),
			zap.Int("rows", len(snap.Rows)),
			zap.Int("columns", len(snap.Columns)),
		)
		fmt.Fprintf(os.Stdout, "Imported %s: %d rows, %d columns\n", snap.Ref, len(snap.Rows), len(snap.Columns))
		return nil
	},
}

// -- snapshot list --

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snaps, err := env.Store.ListSnapshots(ctx)
		if err != nil {
			return eris.Wrap(err, "snapshot list")
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}
		formatSnapshotList(os.Stdout, snaps)
		return nil
	},
}

// -- snapshot show --

var snapshotShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Print a page of snapshot rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")

		page, err := env.Store.GetSnapshotPage(ctx, args[0], offset, limit)
		if err != nil {
			return eris.Wrap(err, "snapshot show")
		}
		formatSnapshotPage(os.Stdout, page)
		return nil
	},
}

// -- snapshot export --

var snapshotExportCmd = &cobra.Command{
	Use:   "export <ref>",
	Short: "Write a stored snapshot to a .csv, .xlsx, or .json file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out, _ := cmd.Flags().GetString("out")

		snap, err := snapshot.ReadAll(ctx, env.Store, args[0], cfg.Review.PageSize)
		if err != nil {
			return eris.Wrap(err, "snapshot export")
		}
		if err := snapshot.Export(snap, out); err != nil {
			return eris.Wrap(err, "snapshot export")
		}

		fmt.Fprintf(os.Stdout, "Exported %s to %s (%d rows)\n", snap.Ref, out, len(snap.Rows))
		return nil
	},
}

func init() {
	snapshotImportCmd.Flags().String("ref", "", "snapshot ref (default: file name)")
	snapshotImportCmd.Flags().String("format", "", "csv, tsv, xlsx, or json (default: from extension)")
	snapshotImportCmd.Flags().String("delimiter", "", "CSV field delimiter (default ',', or tab for .tsv; accepts \\t)")
	snapshotImportCmd.Flags().String("sheet", "", "XLSX worksheet name (default: first sheet)")

	snapshotShowCmd.Flags().Int("offset", 0, "first row to print")
	snapshotShowCmd.Flags().Int("limit", 20, "number of rows to print")

	snapshotExportCmd.Flags().String("out", "", "output file (.csv, .xlsx, or .json)")
	_ = snapshotExportCmd.MarkFlagRequired("out")

	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// formatSnapshotList writes a table of stored snapshots to w.
func formatSnapshotList(out io.Writer, snaps []model.SnapshotInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REF\tROWS\tCOLUMNS")
	_, _ = fmt.Fprintln(w, "---\t----\t-------")
	for _, s := range snaps {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", s.Ref, s.RowCount, len(s.Columns))
	}
	_ = w.Flush()
}

// formatSnapshotPage writes page rows as a table with a leading row index.
func formatSnapshotPage(out io.Writer, page *model.SnapshotPage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprint(w, "#")
	for _, c := range page.Columns {
		_, _ = fmt.Fprintf(w, "\t%s", c)
	}
	_, _ = fmt.Fprintln(w)
	for i, row := range page.Rows {
		_, _ = fmt.Fprintf(w, "%d", page.Offset+i)
		for _, c := range page.Columns {
			_, _ = fmt.Fprintf(w, "\t%s", truncate(row[c], 40))
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "rows %d-%d of %d\n", page.Offset, page.Offset+len(page.Rows), page.Total)
}

// truncate shortens s to n runes for table display.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
