// Package policy provides Open Policy Agent (OPA) admission for Pilot.
//
// Before a project is created, run, or deleted the lifecycle asks the
// Engine to admit the operation. Each policy is a Rego module defining a
// `deny` set; elements with severity "error" or "critical" block the
// operation, anything else is reported as a warning.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision, err := eng.Admit(ctx, policy.Input{
//	    Operation: "create",
//	    Project:   policy.ProjectInput{Name: "demo"},
//	})
//	if !decision.Allowed {
//	    fmt.Println(decision.Reasons())
//	}
//
// # Built-in policies
//
//   - project-naming: names must be non-blank, at most 128 characters, and
//     free of control characters
//   - operation-restrictions: rejects unknown operations and runs of
//     deleted projects
//
// # Custom policies
//
// Engine.LoadPolicies reads .rego modules (named after the file, error
// severity) and .json descriptors from files or directories. Engine.Watch
// reloads them with fsnotify when they change. A custom policy may not
// replace a built-in policy of the same name.
//
//	package pilot.custom.names
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.operation == "create"
//	    startswith(input.project.name, "tmp")
//	    msg := "temporary projects are not allowed"
//	}
package policy
