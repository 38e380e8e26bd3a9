package sink

import (
	"context"
	"strings"
	"sync"
)

// Accumulator is the non-interactive sink. Questions are recorded in the
// output and answered immediately with an empty Answer.
type Accumulator struct {
	mu     sync.Mutex
	buf    strings.Builder
	closed bool
}

// NewAccumulator returns an empty, started accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Start reopens the accumulator if it was stopped.
func (a *Accumulator) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = false
	return nil
}

// Stop closes the accumulator. The accumulated output stays readable.
func (a *Accumulator) Stop(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Emit appends message followed by a newline.
func (a *Accumulator) Emit(_ context.Context, message string) error {
	return a.appendLine(message)
}

// Ask appends question followed by a newline and returns an empty answer.
func (a *Accumulator) Ask(_ context.Context, question string) (Answer, error) {
	if err := a.appendLine(question); err != nil {
		return Answer{}, err
	}
	return Answer{}, nil
}

// Output returns the accumulated text.
func (a *Accumulator) Output() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

func (a *Accumulator) appendLine(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.buf.WriteString(line)
	a.buf.WriteByte('\n')
	return nil
}
