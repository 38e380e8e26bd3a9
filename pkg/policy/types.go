package policy

import (
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block the operation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"

	// SeverityCritical blocks the operation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies admission.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents an admission rule with its Rego code. The module must
// define a `deny` set; each element is a message string or an object with
// "message" and optional "severity".
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`

	// Source is "builtin" or the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy   string                 `json:"policy"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Decision is the result of admitting one operation.
type Decision struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Reasons returns the messages of the blocking violations.
func (d *Decision) Reasons() []string {
	reasons := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		reasons = append(reasons, v.Message)
	}
	return reasons
}

// String joins the blocking reasons for display.
func (d *Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return strings.Join(d.Reasons(), "; ")
}

// Input is the document policies are evaluated against (`input` in Rego).
type Input struct {
	// Operation is one of create, run, delete.
	Operation string       `json:"operation"`
	Project   ProjectInput `json:"project"`
	Context   *Context     `json:"context,omitempty"`
}

// ProjectInput describes the project an operation targets.
type ProjectInput struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Template string `json:"template,omitempty"`
	State    string `json:"state,omitempty"`
	Steps    int    `json:"steps"`
}

// Context provides additional evaluation context.
type Context struct {
	Environment string    `json:"environment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
