// Package policy provides Open Policy Agent (OPA) integration for rulegraph.
//
// Policies are Rego modules whose deny set is evaluated once per declared
// target before anything is scheduled. A blocking violation (error or
// critical) fails validation; info and warning violations are reported only.
//
// # Usage
//
// Creating a policy engine and evaluating a loaded project:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.Evaluate(ctx, project.Mapper())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s: %s (%s)\n", v.Target, v.Message, v.Policy)
//	    }
//	}
//
// Loading custom policies from files or directories of .rego and .json files:
//
//	err = eng.LoadPolicies(ctx, []string{"policies", "/etc/rulegraph/org.rego"})
//
// # Built-in Policies
//
//  1. declared-dependencies - Dependencies must name declared targets
//  2. target-naming - Target names use a lowercase charset
//  3. empty-target - Targets that declare nothing are reported
//
// # Input Document
//
// Each evaluation sees the target and the project it belongs to:
//
//	{
//	  "target": {
//	    "address": "src/java/simple:simple",
//	    "spec_path": "src/java/simple",
//	    "name": "simple",
//	    "type": "java_library",
//	    "dependencies": ["3rdparty/jvm:guava"],
//	    "configurations": ["JavaSources"]
//	  },
//	  "project": {"addresses": ["3rdparty/jvm:guava", "src/java/simple:simple"]}
//	}
//
// A custom policy:
//
//	package custom.thirdparty
//
//	import rego.v1
//
//	deny contains violation if {
//	    some dep in input.target.dependencies
//	    startswith(dep, "3rdparty/")
//	    input.target.type == "thrift_library"
//	    violation := {
//	        "message": "thrift libraries must not depend on 3rdparty jars",
//	        "severity": "error",
//	    }
//	}
package policy
