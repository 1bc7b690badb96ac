package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that fail validation.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity fail validation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set is evaluated once
	// per target.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single deny result for a target.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Target is the address of the target that violated the policy.
	Target string `json:"target"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating the policies over a project.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, ordered by target and policy.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Targets is the number of targets evaluated.
	Targets int `json:"targets"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Input is the document a policy sees as input.
type Input struct {
	Target  *TargetInput  `json:"target"`
	Project *ProjectInput `json:"project"`
}

// TargetInput describes one declared target.
type TargetInput struct {
	Address  string `json:"address"`
	SpecPath string `json:"spec_path"`
	Name     string `json:"name"`
	Type     string `json:"type"`

	// Dependencies are the addresses the target and its configurations
	// depend on, without variants.
	Dependencies []string `json:"dependencies"`

	Variants map[string]string `json:"variants,omitempty"`

	// Configurations are the type names of the target's configurations.
	Configurations []string `json:"configurations"`
}

// ProjectInput describes the project the target belongs to.
type ProjectInput struct {
	// Addresses are all declared addresses.
	Addresses []string `json:"addresses"`
}
