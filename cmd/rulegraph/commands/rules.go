package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type ruleOutput struct {
	Name             string            `json:"name"`
	Output           string            `json:"output"`
	SubjectTypes     []string          `json:"subject_types,omitempty"`
	Clause           []string          `json:"clause"`
	RequiredVariants map[string]string `json:"required_variants,omitempty"`
}

func newRulesCommand() *cobra.Command {
	var products bool

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rules of the build",
		Long: `List the task rules the engine chains together, with the product each one
produces and the selectors of its inputs. With --products, list every
product some rule or literal resolution can produce instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			index := s.build.Index
			w := cmd.OutOrStdout()
			if products {
				if jsonOutput {
					return printJSON(w, index.Products())
				}
				for _, p := range index.Products() {
					fmt.Fprintln(w, p)
				}
				return nil
			}

			rules := index.Rules()
			out := make([]ruleOutput, 0, len(rules))
			for _, r := range rules {
				ro := ruleOutput{Name: r.Name, Output: r.Output.Name(), Clause: make([]string, len(r.Clause))}
				for _, st := range r.SubjectTypes {
					ro.SubjectTypes = append(ro.SubjectTypes, st.Name())
				}
				for i, sel := range r.Clause {
					ro.Clause[i] = fmt.Sprint(sel)
				}
				if !r.RequiredVariants.IsEmpty() {
					ro.RequiredVariants = r.RequiredVariants.Map()
				}
				out = append(out, ro)
			}
			if jsonOutput {
				return printJSON(w, out)
			}
			for _, r := range out {
				fmt.Fprintf(w, "%s -> %s\n", r.Name, r.Output)
				if len(r.SubjectTypes) > 0 {
					fmt.Fprintf(w, "  subjects: %s\n", strings.Join(r.SubjectTypes, ", "))
				}
				for _, c := range r.Clause {
					fmt.Fprintf(w, "  %s\n", c)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&products, "products", false, "list products instead of rules")

	return cmd
}
