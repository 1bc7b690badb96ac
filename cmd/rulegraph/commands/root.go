package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	buildRoot  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rulegraph",
		Short: "rulegraph - incremental rule graph build engine",
		Long: `rulegraph computes products for the targets declared in BUILD files by
chaining typed rules into a memoized product graph.

Features:
  - BUILD files in YAML, CUE, HCL or Starlark
  - Variants that select between configurations of a target
  - Incremental recomputation after file changes
  - Policy checks on declared targets (OPA/rego)
  - Run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ./rulegraph.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&buildRoot, "build-root", "", "build root, overriding the settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newRulesCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
