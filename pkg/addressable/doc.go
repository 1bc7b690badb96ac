// Package addressable connects declared targets to the rule graph engine.
//
// An Address names a target. A Target carries configuration values, default
// variants and dependencies, each of which is a Ref: either an unresolved
// Address or an inline value. The AddressMapper holds the declared targets and
// contributes the rules through which the engine turns an Address subject
// into its Target and finds configuration values on it. Dependencies are
// resolved by the engine's own Select machinery; literal variants on a
// dependency address ("path:name@key=value") win over the variants of the
// dependent.
//
// The SymbolTable turns the generic TargetConfig produced by project file
// loaders into Targets.
package addressable
