package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		projectNamingPolicy(),
		operationRestrictionsPolicy(),
	}
}

// MaxProjectNameLength bounds project names accepted by the built-in naming policy.
const MaxProjectNameLength = 128

// projectNamingPolicy rejects project names that cannot be displayed or stored sensibly.
func projectNamingPolicy() Policy {
	return Policy{
		Name:        "project-naming",
		Description: "Project names must be non-blank, at most 128 characters, and free of control characters",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		Source:      "builtin",
		Rego: `package pilot.policies.naming

import rego.v1

max_length := 128

deny contains violation if {
	input.operation == "create"
	trim_space(input.project.name) == ""
	violation := {
		"message": "Project name must not be empty",
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "create"
	count(input.project.name) > max_length
	violation := {
		"message": sprintf("Project name must not exceed %d characters", [max_length]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "create"
	regex.match("[\\x00-\\x1f\\x7f]", input.project.name)
	violation := {
		"message": "Project name must not contain control characters",
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "create"
	name := input.project.name
	trim_space(name) != ""
	trim_space(name) != name
	violation := {
		"message": sprintf("Project name '%s' has leading or trailing whitespace", [name]),
		"severity": "warning",
	}
}`,
	}
}

// operationRestrictionsPolicy guards operations against project state.
func operationRestrictionsPolicy() Policy {
	return Policy{
		Name:        "operation-restrictions",
		Description: "Restricts lifecycle operations by project state",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"lifecycle"},
		Source:      "builtin",
		Rego: `package pilot.policies.operations

import rego.v1

known_operations := {"create", "run", "delete"}

deny contains violation if {
	not input.operation in known_operations
	violation := {
		"message": sprintf("Unknown operation '%s'", [input.operation]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "run"
	input.project.state == "deleted"
	violation := {
		"message": sprintf("Project '%s' has been deleted", [input.project.id]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "run"
	input.project.steps == 0
	violation := {
		"message": sprintf("Project '%s' has no steps to run", [input.project.id]),
		"severity": "warning",
	}
}

deny contains violation if {
	input.operation == "delete"
	input.project.state == "completed"
	violation := {
		"message": sprintf("Deleting completed project '%s' discards its checkpoints", [input.project.id]),
		"severity": "info",
	}
}`,
	}
}
