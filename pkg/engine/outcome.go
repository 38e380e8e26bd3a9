package engine

// OutcomeKind tags an Outcome.
type OutcomeKind string

const (
	OutcomeCompleted   OutcomeKind = "completed"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeInterrupted OutcomeKind = "interrupted"

	// OutcomeRejected is the verdict of an operation that answered false:
	// a create, load or delete that did not happen, or a run whose
	// precondition failed before anything executed.
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the result of one lifecycle workflow. It is never persisted.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Output is everything emitted to the sink during the workflow.
	Output string `json:"output"`

	// Err is set for Failed outcomes.
	Err error `json:"-"`

	// Reason explains a Rejected outcome.
	Reason string `json:"reason,omitempty"`

	// Value carries operation-specific data, e.g. a project list.
	Value interface{} `json:"value,omitempty"`
}

// Completed returns a successful outcome.
func Completed(output string) Outcome {
	return Outcome{Kind: OutcomeCompleted, Output: output}
}

// Failed returns the outcome of a run that stopped on err.
func Failed(output string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Output: output, Err: err}
}

// Interrupted returns the outcome of a cancelled run.
func Interrupted(output string) Outcome {
	return Outcome{Kind: OutcomeInterrupted, Output: output}
}

// Rejected returns the outcome of an operation whose precondition failed.
func Rejected(output, reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Output: output, Reason: reason}
}

// Success is true only for Completed outcomes.
func (o Outcome) Success() bool {
	return o.Kind == OutcomeCompleted
}

// WithValue returns a copy of o carrying v.
func (o Outcome) WithValue(v interface{}) Outcome {
	o.Value = v
	return o
}

// FromBool converts an operation's boolean verdict into an Outcome.
func FromBool(ok bool, output, reason string) Outcome {
	if ok {
		return Completed(output)
	}
	return Rejected(output, reason)
}
