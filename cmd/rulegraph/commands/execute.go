package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/examples/planners"
)

// listGoal prints the addresses matched by the specs instead of running.
const listGoal = "list"

func newExecuteCommand() *cobra.Command {
	var (
		variants map[string]string
		failFast bool
	)

	cmd := &cobra.Command{
		Use:     "execute <goal> <spec>...",
		Aliases: []string{"run"},
		Short:   "Compute the products of a goal for targets",
		Long: `Compute the products of a goal for the targets matched by specs.

Specs are addresses ("src/java/simple:simple" or "src/java/simple"), every
target of a directory ("src/java:") or every target below it ("src/java::").
An address may carry variants: "src/thrift/codegen/simple@thrift=apache_java".

Goals:
  compile   Classpath of java targets
  resolve   Jar of third party targets
  gen       JavaSources, generated from thrift where configured
  manifest  ResourceManifest of resource targets
  list      addresses matched by the specs
  cat, ls   file content and directory listings; specs are paths`,
		Example: `  # Compile a single target
  rulegraph execute compile src/java/simple

  # Compile everything below src/java
  rulegraph execute compile src/java::

  # Generate code with a configured thrift variant
  rulegraph execute gen src/thrift/codegen/simple --variant thrift=apache_java

  # List the targets of a directory as JSON
  rulegraph execute list 3rdparty/jvm: --json`,
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

			goal, specs := args[0], args[1:]
			v := variantsFromFlag(variants)
			if goal == listGoal {
				addresses, err := s.expandSpecs(ctx, specs)
				if err != nil {
					return err
				}
				return printAddresses(cmd.OutOrStdout(), addresses)
			}

			result, err := s.runGoal(ctx, goal, specs, v, failFast)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return resultErr(result)
		},
	}

	cmd.Flags().StringToStringVar(&variants, "variant", nil, "variants for every root (key=value)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop scheduling new work once a root fails")

	return cmd
}

func variantsFromFlag(m map[string]string) engine.Variants {
	pairs := make([]engine.VariantPair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, engine.VariantPair{Key: k, Value: v})
	}
	return engine.NewVariants(pairs...)
}

// expandSpecs resolves specs to addresses, in order and without duplicates.
func (s *session) expandSpecs(ctx context.Context, specs []string) ([]addressable.Address, error) {
	var (
		out  []addressable.Address
		seen = make(map[string]struct{})
	)
	add := func(a addressable.Address) {
		key := a.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}

	for _, spec := range specs {
		subject, err := addressable.ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		if a, ok := subject.(addressable.Address); ok {
			add(a)
			continue
		}
		state, err := s.scheduler.ExecuteOne(ctx, subject, engine.ProductOf[addressable.Addresses]())
		if err != nil {
			return nil, err
		}
		switch st := state.(type) {
		case engine.Return:
			for _, a := range st.Value.(addressable.Addresses).Dependencies {
				add(a)
			}
		case engine.Throw:
			return nil, fmt.Errorf("failed to expand %s: %w", spec, st.Err)
		}
	}
	return out, nil
}

// goalRequest builds the request for goal. Filesystem goals take paths,
// every other goal takes address specs.
func (s *session) goalRequest(ctx context.Context, goal string, specs []string, variants engine.Variants, failFast bool) (engine.ExecutionRequest, error) {
	products, err := planners.GoalProducts(goal)
	if err != nil {
		return engine.ExecutionRequest{}, err
	}
	req := engine.ExecutionRequest{
		FailFast: failFast || s.settings.Scheduler.FailFast,
		User:     os.Getenv("USER"),
		Labels:   map[string]string{"goal": goal},
	}

	if filesystemGoal(products) {
		for _, spec := range specs {
			p := path.Clean(strings.TrimPrefix(spec, "//"))
			if p == "." {
				p = ""
			}
			for _, product := range products {
				req.Roots = append(req.Roots, engine.Root{Subject: engine.Path{Path: p}, Product: product, Variants: variants})
			}
		}
		return req, nil
	}

	addresses, err := s.expandSpecs(ctx, specs)
	if err != nil {
		return engine.ExecutionRequest{}, err
	}
	if len(addresses) == 0 {
		return engine.ExecutionRequest{}, fmt.Errorf("no targets match %s", strings.Join(specs, " "))
	}
	for _, a := range addresses {
		subject, literal := a.SplitVariants()
		for _, product := range products {
			req.Roots = append(req.Roots, engine.Root{
				Subject:  subject,
				Product:  product,
				Variants: engine.MergeVariants(variants, literal),
			})
		}
	}
	return req, nil
}

func filesystemGoal(products []engine.Product) bool {
	for _, p := range products {
		if !engine.IsFilesystemProduct(p) {
			return false
		}
	}
	return len(products) > 0
}

func (s *session) runGoal(ctx context.Context, goal string, specs []string, variants engine.Variants, failFast bool) (*engine.ExecutionResult, error) {
	req, err := s.goalRequest(ctx, goal, specs, variants, failFast)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Execute(ctx, req)
}

func resultErr(result *engine.ExecutionResult) error {
	var failed int
	for _, r := range result.Roots {
		if r.Outcome == engine.RootOutcomeFailed || r.Outcome == engine.RootOutcomeCancelled {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("run %s: %d of %d roots failed: %w", result.RunID, failed, len(result.Roots), result.Err())
}

type rootOutput struct {
	Subject  string            `json:"subject"`
	Product  string            `json:"product"`
	Variants map[string]string `json:"variants,omitempty"`
	Outcome  string            `json:"outcome"`
	Value    any               `json:"value,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type resultOutput struct {
	RunID    string       `json:"run_id"`
	Status   string       `json:"status"`
	Steps    int          `json:"steps"`
	Duration string       `json:"duration"`
	Roots    []rootOutput `json:"roots"`
}

func newResultOutput(result *engine.ExecutionResult) resultOutput {
	out := resultOutput{
		RunID:    result.RunID,
		Status:   string(result.Status),
		Steps:    result.Steps,
		Duration: result.Duration.String(),
		Roots:    make([]rootOutput, 0, len(result.Roots)),
	}
	for _, r := range result.Roots {
		ro := rootOutput{
			Subject: fmt.Sprint(r.Root.Subject),
			Product: r.Root.Product.Name(),
			Outcome: string(r.Outcome),
		}
		if !r.Root.Variants.IsEmpty() {
			ro.Variants = r.Root.Variants.Map()
		}
		switch st := r.State.(type) {
		case engine.Return:
			ro.Value = st.Value
		case engine.Throw:
			ro.Error = st.Err.Error()
		case engine.Noop:
			ro.Error = st.Msg
		}
		out.Roots = append(out.Roots, ro)
	}
	return out
}

func printResult(w io.Writer, result *engine.ExecutionResult) error {
	out := newResultOutput(result)
	if jsonOutput {
		return printJSON(w, out)
	}
	for _, r := range out.Roots {
		subject := r.Subject
		if len(r.Variants) > 0 {
			subject += "@" + formatVariants(r.Variants)
		}
		fmt.Fprintf(w, "%-9s %s %s\n", r.Outcome, subject, r.Product)
		switch {
		case r.Value != nil:
			fmt.Fprintf(w, "  %+v\n", r.Value)
		case r.Error != "":
			fmt.Fprintf(w, "  %s\n", r.Error)
		}
	}
	fmt.Fprintf(w, "run %s %s: %d roots, %d steps in %s\n", out.RunID, out.Status, len(out.Roots), out.Steps, out.Duration)
	return nil
}

func formatVariants(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + m[k]
	}
	return strings.Join(pairs, ",")
}

func printAddresses(w io.Writer, addresses []addressable.Address) error {
	if jsonOutput {
		specs := make([]string, len(addresses))
		for i, a := range addresses {
			specs[i] = a.String()
		}
		return printJSON(w, specs)
	}
	for _, a := range addresses {
		fmt.Fprintln(w, a.String())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
