package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/monitoring"
	"github.com/sells-group/reconcile-cli/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and inspect review sessions",
}

// -- session create --

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a review session from a suggestions file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		source, _ := cmd.Flags().GetString("source")
		path, _ := cmd.Flags().GetString("changes")

		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrap(err, "session create: read changes")
		}
		suggestions, fileSource, err := parseSuggestions(data)
		if err != nil {
			return err
		}
		if source == "" {
			source = fileSource
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// The source must already be imported so finalize can read it.
		if _, err := env.Store.GetSnapshotPage(ctx, source, 0, 1); err != nil {
			return eris.Wrapf(err, "session create: source snapshot %s", source)
		}

		sess, err := env.Manager.CreateSession(ctx, source, suggestions)
		if err != nil {
			return eris.Wrap(err, "session create")
		}

		fmt.Fprintf(os.Stdout, "Created session %s: %d changes, %d need review\n",
			sess.ID, len(sess.Changes), sess.PendingCount())
		return nil
	},
}

// -- session list --

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := store.SessionFilter{SourceRef: source, Limit: limit}
		if cmd.Flags().Changed("finalized") {
			finalized, _ := cmd.Flags().GetBool("finalized")
			filter.Finalized = &finalized
		}

		sessions, err := env.Store.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "session list")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionList(os.Stdout, sessions)
		return nil
	},
}

// -- session show --

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with all change records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Manager.Session(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "session show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

// -- session stats --

var sessionStatsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Show review progress by status and category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Manager.Session(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "session stats")
		}

		formatSessionStats(os.Stdout, monitoring.ForSession(sess))
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().String("source", "", "ref of the imported source snapshot")
	sessionCreateCmd.Flags().String("changes", "", "JSON file of suggestions")
	_ = sessionCreateCmd.MarkFlagRequired("changes")

	sessionListCmd.Flags().String("source", "", "filter by source snapshot ref")
	sessionListCmd.Flags().Bool("finalized", false, "filter by finalized state")
	sessionListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionStatsCmd)
	rootCmd.AddCommand(sessionCmd)
}

// suggestionsFile is the object form of a suggestions file.
type suggestionsFile struct {
	SourceRef   string             `json:"source_ref"`
	Suggestions []model.Suggestion `json:"suggestions"`
}

// parseSuggestions accepts either a bare JSON array of suggestions or an
// object carrying source_ref and suggestions.
func parseSuggestions(data []byte) ([]model.Suggestion, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.Suggestion
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, "", eris.Wrap(err, "parse suggestions")
		}
		return list, "", nil
	}
	var f suggestionsFile
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, "", eris.Wrap(err, "parse suggestions")
	}
	return f.Suggestions, f.SourceRef, nil
}

// formatSessionList writes a tabular list of sessions to w.
func formatSessionList(out io.Writer, sessions []store.SessionSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tCHANGES\tPENDING\tFINALIZED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t-------\t---------\t-------")

	for _, s := range sessions {
		finalized := "no"
		if s.Finalized {
			finalized = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(s.ID),
			truncate(s.SourceRef, 30),
			s.TotalChanges,
			s.PendingChanges,
			finalized,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatSessionStats writes review progress to w.
func formatSessionStats(out io.Writer, s *monitoring.SessionStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Session:\t%s\n", s.SessionID)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", s.SourceRef)
	if s.Finalized {
		_, _ = fmt.Fprintf(w, "Finalized:\tyes (%s)\n", s.CleanedRef)
	} else {
		_, _ = fmt.Fprintf(w, "Finalized:\tno\n")
	}
	_, _ = fmt.Fprintf(w, "Changes:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", s.Pending)
	_, _ = fmt.Fprintf(w, "Decided:\t%d\n", s.Decided)
	for _, st := range []model.Status{model.StatusAutoAccepted, model.StatusAccepted, model.StatusRejected, model.StatusOverridden} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[st])
	}
	_, _ = fmt.Fprintf(w, "Avg confidence:\t%.2f\n", s.AvgConfidence)

	cats := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		cat := model.Category(c)
		_, _ = fmt.Fprintf(w, "%s:\t%d (%d pending)\n", c, s.ByCategory[cat], s.PendingByCategory[cat])
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
