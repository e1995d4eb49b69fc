package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/review"
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Record review decisions on change records",
	Long:  "Each decision is staged and then saved to the store. Change IDs may be given as a unique prefix.",
}

var decideAcceptCmd = &cobra.Command{
	Use:   "accept <session-id> <change-id>",
	Short: "Accept a suggested change",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideOne(cmd, args[0], args[1], func(ctx context.Context, m *review.Manager, changeID string) (model.ChangeRecord, error) {
			return m.Accept(ctx, args[0], changeID, reviewerFlag(cmd))
		})
	},
}

var decideRejectCmd = &cobra.Command{
	Use:   "reject <session-id> <change-id>",
	Short: "Reject a suggested change",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideOne(cmd, args[0], args[1], func(ctx context.Context, m *review.Manager, changeID string) (model.ChangeRecord, error) {
			return m.Reject(ctx, args[0], changeID, reviewerFlag(cmd))
		})
	},
}

var decideOverrideCmd = &cobra.Command{
	Use:   "override <session-id> <change-id> <value>",
	Short: "Replace a suggestion with a reviewer-supplied value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return decideOne(cmd, args[0], args[1], func(ctx context.Context, m *review.Manager, changeID string) (model.ChangeRecord, error) {
			return m.Override(ctx, args[0], changeID, args[2], reason, reviewerFlag(cmd))
		})
	},
}

var decideBulkAcceptCmd = &cobra.Command{
	Use:   "bulk-accept <session-id>",
	Short: "Accept every needs_review change matching the filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideBulk(cmd, args[0], (*review.Manager).BulkAccept, "accepted")
	},
}

var decideBulkRejectCmd = &cobra.Command{
	Use:   "bulk-reject <session-id>",
	Short: "Reject every needs_review change matching the filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideBulk(cmd, args[0], (*review.Manager).BulkReject, "rejected")
	},
}

func init() {
	for _, c := range []*cobra.Command{decideAcceptCmd, decideRejectCmd, decideOverrideCmd, decideBulkAcceptCmd, decideBulkRejectCmd} {
		c.Flags().String("reviewer", "", "reviewer identity (default from config)")
		decideCmd.AddCommand(c)
	}
	decideOverrideCmd.Flags().String("reason", "", "why the suggestion was overridden")
	addFilterFlags(decideBulkAcceptCmd)
	addFilterFlags(decideBulkRejectCmd)

	rootCmd.AddCommand(decideCmd)
}

type decideFunc func(ctx context.Context, m *review.Manager, changeID string) (model.ChangeRecord, error)

func decideOne(cmd *cobra.Command, sessionID, changeRef string, fn decideFunc) error {
	ctx := cmd.Context()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	changeID, err := resolveChangeID(ctx, env.Manager, sessionID, changeRef)
	if err != nil {
		return err
	}

	rec, err := fn(ctx, env.Manager, changeID)
	if err != nil {
		return eris.Wrap(err, "decide")
	}
	if _, err := env.Manager.Save(ctx, sessionID); err != nil {
		return eris.Wrap(err, "decide: save")
	}

	fmt.Fprintf(os.Stdout, "%s row %d %s: %s -> %q\n",
		truncateID(rec.ID), rec.RowIndex, rec.Column, rec.Status, rec.EffectiveValue())
	return nil
}

type bulkFunc func(m *review.Manager, ctx context.Context, sessionID string, set filter.Set, actor string) (int, error)

func decideBulk(cmd *cobra.Command, sessionID string, fn bulkFunc, verb string) error {
	ctx := cmd.Context()

	set, err := bulkFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := fn(env.Manager, ctx, sessionID, set, reviewerFlag(cmd))
	if err != nil {
		return eris.Wrap(err, "decide bulk")
	}
	if _, err := env.Manager.Save(ctx, sessionID); err != nil {
		return eris.Wrap(err, "decide bulk: save")
	}
	pending, err := env.Manager.Pending(ctx, sessionID)
	if err != nil {
		return err
	}

	zap.L().Debug("bulk decision saved", zap.String("session_id", sessionID), zap.Int("changed", n))
	fmt.Fprintf(os.Stdout, "%d change(s) %s, %d still need review\n", n, verb, pending)
	return nil
}

// resolveChangeID expands a unique ID prefix to the full change ID.
func resolveChangeID(ctx context.Context, m *review.Manager, sessionID, ref string) (string, error) {
	changes, err := m.Changes(ctx, sessionID, filter.Set{})
	if err != nil {
		return "", eris.Wrap(err, "decide")
	}
	var match string
	for i := range changes {
		id := changes[i].ID
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return "", eris.Errorf("change id prefix %q is ambiguous", ref)
			}
			match = id
		}
	}
	if match == "" {
		return "", eris.Wrapf(model.ErrNotFound, "change %s", ref)
	}
	return match, nil
}
