// Package config loads the settings of the rule engine and the project
// descriptions that declare its targets.
//
// # Settings
//
// Settings are read from a YAML file and validated with struct tags:
//
//	build_root: .
//	scheduler:
//	  max_parallel: 8
//	  fail_fast: false
//	project:
//	  build_files: ["BUILD", "BUILD.*"]
//	  ignore: ["dist/**", ".git/**"]
//	store:
//	  path: .rulegraph/history.db
//	telemetry:
//	  logging:
//	    level: info
//	    format: console
//
// # Project descriptions
//
// Every directory of the build root may hold a BUILD file declaring targets.
// The address of a target is the directory relative to the build root plus
// the target name. BUILD files come in several formats, chosen by extension:
//
//   - BUILD.yaml, BUILD.yml: a "targets" list
//   - BUILD.cue: a "targets" map or list, checked against the #Target schema
//   - BUILD.hcl: "target" blocks labelled with the target name
//   - BUILD, BUILD.star: Starlark calling the target() builtin
//
// A target in YAML:
//
//	targets:
//	  - name: guava
//	    type: jar_library
//	    configurations:
//	      - type: jar
//	        org: com.google.guava
//	        name: guava
//	        rev: "18.0"
//
// The same target in Starlark:
//
//	target(
//	    name = "guava",
//	    type = "jar_library",
//	    configurations = [
//	        configuration("jar", org = "com.google.guava", name = "guava", rev = "18.0"),
//	    ],
//	)
//
// Dependencies are address specs relative to the declaring directory
// (":sibling", "other/dir:name", "//from/the/root:name") or inline
// configuration values.
//
// # Errors
//
// Parse and validation problems are collected as ValidationError values
// carrying the file and position they were found at, so that one load
// reports every broken file at once.
//
// # Security
//
// Starlark evaluation has no filesystem or network access, suppresses
// print, and is cancelled after a timeout.
package config
