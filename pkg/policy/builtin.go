package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		dependencyPolicy(),
		targetNamingPolicy(),
		emptyTargetPolicy(),
	}
}

// dependencyPolicy rejects dependencies on undeclared targets and on the
// target itself.
func dependencyPolicy() Policy {
	return Policy{
		Name:        "declared-dependencies",
		Description: "Dependencies must name declared targets other than the target itself",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"dependencies"},
		Rego: `package rulegraph.policies.dependencies

import rego.v1

declared := {a | some a in input.project.addresses}

deny contains violation if {
	some dep in input.target.dependencies
	not declared[dep]
	violation := {
		"message": sprintf("%s depends on %s, which is not declared", [input.target.address, dep]),
		"severity": "error",
	}
}

deny contains violation if {
	some dep in input.target.dependencies
	dep == input.target.address
	violation := {
		"message": sprintf("%s depends on itself", [input.target.address]),
		"severity": "error",
	}
}`,
	}
}

// targetNamingPolicy enforces target naming conventions.
func targetNamingPolicy() Policy {
	return Policy{
		Name:        "target-naming",
		Description: "Target names use lowercase letters, digits, '.', '_' and '-'",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package rulegraph.policies.naming

import rego.v1

deny contains violation if {
	name := input.target.name
	not regex.match("^[a-z0-9][a-z0-9._-]*$", name)
	violation := {
		"message": sprintf("target name '%s' should use lowercase letters, digits, '.', '_' and '-'", [name]),
		"severity": "warning",
	}
}

deny contains violation if {
	name := input.target.name
	count(name) > 100
	violation := {
		"message": sprintf("target name '%s' must not exceed 100 characters", [name]),
		"severity": "error",
	}
}`,
	}
}

// emptyTargetPolicy flags targets that nothing can be computed for.
func emptyTargetPolicy() Policy {
	return Policy{
		Name:        "empty-target",
		Description: "Targets without configurations or dependencies produce nothing",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		Rego: `package rulegraph.policies.empty

import rego.v1

deny contains violation if {
	count(input.target.configurations) == 0
	count(input.target.dependencies) == 0
	violation := sprintf("%s has no configurations and no dependencies", [input.target.address])
}`,
	}
}
