// Package sink provides the output side channel of a project run.
//
// A Sink collects everything a workflow says (Emit) or asks (Ask) while it
// executes. The orchestrator is indifferent to which variant is attached:
// the HTTP boundary uses an Accumulator because no operator is present, the
// CLI uses an Interactive sink bound to the terminal.
package sink

import (
	"context"
	"errors"
)

// ErrClosed is returned by Emit and Ask once the sink has been stopped or its
// input stream has ended. The lifecycle treats it as an interruption.
var ErrClosed = errors.New("sink closed")

// Answer is the reply to a question asked through a sink.
type Answer struct {
	// Button is the selected option, if the question offered any.
	Button string `json:"button,omitempty"`

	// Text is the free-form reply.
	Text string `json:"text"`
}

// Empty reports whether no reply was given.
func (a Answer) Empty() bool {
	return a.Button == "" && a.Text == ""
}

// Sink is the capability set shared by every output variant.
type Sink interface {
	// Start prepares the sink for use.
	Start(ctx context.Context) error

	// Stop closes the sink. Further Emit and Ask calls return ErrClosed.
	Stop(ctx context.Context) error

	// Emit appends one line of output.
	Emit(ctx context.Context, message string) error

	// Ask records a question and returns the answer.
	Ask(ctx context.Context, question string) (Answer, error)

	// Output returns everything written to the sink so far.
	Output() string
}
