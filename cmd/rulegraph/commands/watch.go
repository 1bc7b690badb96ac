package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	var variants map[string]string

	cmd := &cobra.Command{
		Use:   "watch <goal> <spec>...",
		Short: "Recompute a goal whenever files change",
		Long: `Compute a goal, then watch the build root and compute it again after every
batch of file changes. Edited BUILD files are reloaded; only the products
computed from changed files or targets are recomputed.`,
		Example: `  # Keep a compile current while editing
  rulegraph watch compile src/java::`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)
			if err := s.requireValid(); err != nil {
				return err
			}
			s.telemetry.StartMetricsServer()

			goal, specs := args[0], args[1:]
			v := variantsFromFlag(variants)
			log := s.telemetry.Logger
			w := cmd.OutOrStdout()

			run := func(ctx context.Context) {
				result, err := s.runGoal(ctx, goal, specs, v, false)
				if err != nil {
					log.WithError(err).Error("run failed")
					return
				}
				if err := printResult(w, result); err != nil {
					log.WithError(err).Warn("failed to print result")
				}
			}
			run(ctx)

			inv := watch.NewInvalidator(s.build.Project, s.scheduler, log)
			watcher, err := watch.NewWatcher(s.settings.BuildRoot, s.settings.Watch.Debounce, s.loader.Ignored, log)
			if err != nil {
				return err
			}
			err = watcher.Start(ctx, func(ctx context.Context, changes []string) {
				summary, err := inv.Apply(ctx, changes)
				if err != nil {
					log.WithError(err).Warn("some BUILD files could not be reloaded")
				}
				if summary.Removed == 0 {
					return
				}
				fmt.Fprintf(w, "%d paths changed, %d nodes invalidated\n", len(changes), summary.Removed)
				run(ctx)
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&variants, "variant", nil, "variants for every root (key=value)")

	return cmd
}
