package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Run history",
		Long: `Inspect the runs recorded in the history database.

Runs are recorded when store.enabled is set in the settings file. Each run
keeps the outcome of every root and the invalidations of the graph.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryInvalidationsCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func withStore(ctx context.Context, fn func(store *stores.SQLiteStore) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newHistoryListCommand() *cobra.Command {
	var (
		status string
		user   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Example: `  # List the last 10 failed runs
  rulegraph history list --status failed --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.RunFilter{Limit: limit, Offset: offset}
			if status != "" {
				st := engine.RunStatus(status)
				filter.Status = &st
			}
			if user != "" {
				filter.User = &user
			}

			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, runs)
				}
				for _, r := range runs {
					fmt.Fprintf(w, "%s  %-9s %s  %d roots  %s\n",
						r.ID, r.Status, r.StartedAt.Format(time.RFC3339), r.Roots, r.Duration)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().StringVar(&user, "user", "", "only runs requested by this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

type runOutput struct {
	Run   *engine.Run          `json:"run"`
	Roots []*stores.RootRecord `json:"roots"`
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and the outcome of its roots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				roots, err := store.ListRootResults(cmd.Context(), run.ID)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, runOutput{Run: run, Roots: roots})
				}
				fmt.Fprintf(w, "run %s %s, started %s by %q, %d steps in %s\n",
					run.ID, run.Status, run.StartedAt.Format(time.RFC3339), run.User, run.Steps, run.Duration)
				for _, r := range roots {
					fmt.Fprintf(w, "%-9s %s\n", r.Outcome, r.Root)
					switch {
					case r.Value != nil:
						fmt.Fprintf(w, "  %s\n", *r.Value)
					case r.Message != nil:
						fmt.Fprintf(w, "  %s\n", *r.Message)
					}
					if r.Trace != nil {
						fmt.Fprintln(w, *r.Trace)
					}
				}
				return nil
			})
		},
	}
}

func newHistoryInvalidationsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "invalidations",
		Short: "List recorded invalidations of the product graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				invs, err := store.ListInvalidations(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, invs)
				}
				for _, inv := range invs {
					fmt.Fprintf(w, "%s  %-24s %d nodes\n", inv.Timestamp.Format(time.RFC3339), inv.Reason, inv.Removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of invalidations")

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Example: `  # Delete runs older than a week
  rulegraph history prune --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				removed, err := store.PruneRuns(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				log.Info().
					Int64("removed", removed).
					Dur("older_than", olderThan).
					Msg("Pruned run history")
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]int64{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d runs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs started longer ago than this")

	return cmd
}
