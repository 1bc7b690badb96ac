package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/rulegraph/pkg/addressable"
)

type sources struct {
	Files        []string
	Dependencies []addressable.Ref
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testMapper(t *testing.T) *addressable.AddressMapper {
	t.Helper()
	m := addressable.NewAddressMapper()
	a := addressable.NewAddress("src/a", "a")
	b := addressable.NewAddress("src/b", "b")
	upper := addressable.NewAddress("src/c", "Upper")
	err := m.Register(
		&addressable.Target{
			Address:      a,
			TypeAlias:    "java",
			Dependencies: []addressable.Ref{addressable.Unresolved(b)},
			Configurations: []any{sources{Dependencies: []addressable.Ref{
				addressable.Unresolved(addressable.NewAddress("src/missing", "x")),
				addressable.Unresolved(b),
				addressable.Resolved("inline"),
			}}},
		},
		&addressable.Target{Address: b, TypeAlias: "java", Configurations: []any{sources{}}},
		&addressable.Target{
			Address:        upper,
			TypeAlias:      "java",
			Dependencies:   []addressable.Ref{addressable.Unresolved(upper)},
			Configurations: []any{sources{}},
		},
		&addressable.Target{Address: addressable.NewAddress("src/d", "empty"), TypeAlias: "target"},
	)
	if err != nil {
		t.Fatalf("Failed to register targets: %v", err)
	}
	return m
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"declared-dependencies", "empty-target", "target-naming"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestEvaluate(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), testMapper(t))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected evaluation to be blocked")
	}
	if result.Targets != 4 {
		t.Errorf("Expected 4 targets, got %d", result.Targets)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Unexpected warnings: %v", result.Warnings)
	}

	expected := []Violation{
		{Policy: "declared-dependencies", Target: "src/a:a", Severity: SeverityError,
			Message: "src/a:a depends on src/missing:x, which is not declared"},
		{Policy: "declared-dependencies", Target: "src/c:Upper", Severity: SeverityError,
			Message: "src/c:Upper depends on itself"},
		{Policy: "target-naming", Target: "src/c:Upper", Severity: SeverityWarning,
			Message: "target name 'Upper' should use lowercase letters, digits, '.', '_' and '-'"},
		{Policy: "empty-target", Target: "src/d:empty", Severity: SeverityInfo,
			Message: "src/d:empty has no configurations and no dependencies"},
	}
	if len(result.Violations) != len(expected) {
		t.Fatalf("Expected %d violations, got %d: %+v", len(expected), len(result.Violations), result.Violations)
	}
	for i := range expected {
		if result.Violations[i] != expected[i] {
			t.Errorf("Violation %d: expected %+v, got %+v", i, expected[i], result.Violations[i])
		}
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("declared-dependencies"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error disabling an unknown policy")
	}

	result, err := eng.Evaluate(context.Background(), testMapper(t))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected evaluation to be allowed, got %+v", result.Violations)
	}
	if len(result.Violations) != 2 {
		t.Errorf("Expected 2 violations, got %d", len(result.Violations))
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "declared-dependencies" {
			t.Error("Disabled policy was evaluated")
		}
	}

	if err := eng.EnablePolicy("declared-dependencies"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	p, err := eng.GetPolicy("declared-dependencies")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if !p.Enabled {
		t.Error("Policy should be enabled")
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{
		Name:     "java-only",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package test.javaonly

import rego.v1

deny contains msg if {
	input.target.type != "java"
	msg := sprintf("%s is a %s", [input.target.address, input.target.type])
}`,
	})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}
	if err := eng.DisablePolicy("empty-target"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), testMapper(t))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	var found bool
	for _, v := range result.Violations {
		if v.Policy == "java-only" {
			found = true
			if v.Target != "src/d:empty" || v.Severity != SeverityCritical || v.Message != "src/d:empty is a target" {
				t.Errorf("Unexpected violation: %+v", v)
			}
		}
	}
	if !found {
		t.Error("Expected a java-only violation")
	}

	err = eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package broken\n\ndeny contains if {"})
	if err == nil {
		t.Error("Expected error for invalid Rego")
	}
}

func TestNewTargetInput(t *testing.T) {
	m := testMapper(t)
	target, err := m.Resolve(addressable.NewAddress("src/a", "a"))
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	in := NewTargetInput(target)
	if in.Address != "src/a:a" || in.Name != "a" || in.SpecPath != "src/a" || in.Type != "java" {
		t.Errorf("Unexpected target input: %+v", in)
	}
	expectedDeps := []string{"src/b:b", "src/missing:x"}
	if len(in.Dependencies) != len(expectedDeps) {
		t.Fatalf("Expected dependencies %v, got %v", expectedDeps, in.Dependencies)
	}
	for i := range expectedDeps {
		if in.Dependencies[i] != expectedDeps[i] {
			t.Errorf("Expected dependencies %v, got %v", expectedDeps, in.Dependencies)
		}
	}
	if len(in.Configurations) != 1 || in.Configurations[0] != "sources" {
		t.Errorf("Expected configurations [sources], got %v", in.Configurations)
	}
}
