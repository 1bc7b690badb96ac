package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		variants map[string]string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "graph <goal> <spec>...",
		Short: "Print the product graph of a goal in DOT format",
		Long: `Compute a goal and print the part of the product graph reachable from its
roots in Graphviz DOT format. Nodes are colored by their terminal state.`,
		Example: `  # Render the graph of a compile
  rulegraph graph compile src/java/consumes_resources | dot -Tsvg > graph.svg

  # Write the graph to a file
  rulegraph graph gen src/thrift/codegen/simple --variant thrift=apache_java -o gen.dot`,
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

			result, err := s.runGoal(ctx, args[0], args[1:], variantsFromFlag(variants), false)
			if err != nil {
				return err
			}
			roots := make([]engine.Node, len(result.Roots))
			for i, r := range result.Roots {
				roots[i] = r.Node
			}
			dot := s.scheduler.Graph().ToDOT(roots)

			if output == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(output, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write graph: %w", err)
			}
			s.telemetry.Logger.WithField("path", output).Info("graph written")
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&variants, "variant", nil, "variants for every root (key=value)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the graph to a file")

	return cmd
}
