package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/policy"
)

type validateOutput struct {
	Files   int                      `json:"files"`
	Targets int                      `json:"targets"`
	Errors  []config.ValidationError `json:"errors,omitempty"`
	Policy  *policy.Result           `json:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		strict   bool
		policies []string
		disabled []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate BUILD files and check policies",
		Long: `Validate the BUILD files of the build root and check the declared targets
against policies.

This command checks:
  - BUILD file syntax (YAML, CUE, HCL, Starlark)
  - Target schemas and configuration types
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate the build root
  rulegraph validate

  # Fail on policy warnings too
  rulegraph validate --strict

  # Check additional policies and skip a built-in one
  rulegraph validate --policy ./policies --disable target-naming`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			project := s.build.Project
			out := validateOutput{
				Files:   len(project.Parsed.Files),
				Targets: project.Mapper.Len(),
				Errors:  project.Parsed.Errors,
			}

			eng, err := policy.NewEngine(s.telemetry.Logger.Zerolog())
			if err != nil {
				return err
			}
			paths := append(s.settings.PolicyPaths(), policies...)
			if len(paths) > 0 {
				if err := eng.LoadPolicies(ctx, paths); err != nil {
					return err
				}
			}
			for _, name := range append(s.settings.Policies.Disabled, disabled...) {
				if err := eng.DisablePolicy(name); err != nil {
					return err
				}
			}
			out.Policy, err = eng.Evaluate(ctx, project.Mapper)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else {
				printValidation(w, out)
			}
			return validationErr(out, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail on policy warnings")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "additional policy files or directories")
	cmd.Flags().StringSliceVar(&disabled, "disable", nil, "policies to disable")

	return cmd
}

func printValidation(w io.Writer, out validateOutput) {
	for _, e := range out.Errors {
		fmt.Fprintf(w, "error   %s\n", e.Error())
	}
	for _, v := range out.Policy.Violations {
		fmt.Fprintf(w, "%-7s %s: %s [%s]\n", v.Severity, v.Target, v.Message, v.Policy)
	}
	for _, warning := range out.Policy.Warnings {
		fmt.Fprintf(w, "warning %s\n", warning)
	}
	fmt.Fprintf(w, "%d files, %d targets, %d errors, %d violations\n",
		out.Files, out.Targets, len(out.Errors), len(out.Policy.Violations))
}

func validationErr(out validateOutput, strict bool) error {
	if len(out.Errors) > 0 {
		return fmt.Errorf("%w: %d error(s)", config.ErrInvalidProject, len(out.Errors))
	}
	if !out.Policy.Allowed {
		return fmt.Errorf("policy check failed")
	}
	if strict {
		for _, v := range out.Policy.Violations {
			if v.Severity == policy.SeverityWarning {
				return fmt.Errorf("policy check failed in strict mode")
			}
		}
	}
	return nil
}
