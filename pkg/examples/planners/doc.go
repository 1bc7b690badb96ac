// Package planners is an example JVM build expressed as engine rules: thrift
// code generation selected by the "thrift" variant, managed third party
// revisions selected by the "resolve" variant, resource isolation and javac.
//
// Targets are declared in ordinary project files and loaded with the
// config package; Symbols registers the configuration types they use.
package planners
