package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Interactive is the operator-facing sink. Messages are written to out as
// they arrive and Ask blocks until a line is read from in.
//
// Input is only read while an Ask is waiting for it. A line that arrives
// after its Ask was cancelled is kept for the next Ask.
type Interactive struct {
	in  *bufio.Reader
	out io.Writer

	mu     sync.Mutex
	buf    strings.Builder
	closed bool

	readMu  sync.Mutex
	reading bool
	lines   chan readResult
}

type readResult struct {
	line string
	err  error
}

// NewInteractive creates a sink that prompts on out and reads answers from in.
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan readResult, 1),
	}
}

// Start opens the sink.
func (s *Interactive) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return nil
}

// Stop closes the sink.
func (s *Interactive) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Emit writes message to the terminal.
func (s *Interactive) Emit(_ context.Context, message string) error {
	return s.write(message + "\n")
}

// Ask prints the question and waits for one line of input. It returns
// ErrClosed when the input stream ends and ctx.Err() when ctx is cancelled.
func (s *Interactive) Ask(ctx context.Context, question string) (Answer, error) {
	if err := s.write(question + "\n"); err != nil {
		return Answer{}, err
	}
	if _, err := fmt.Fprint(s.out, "> "); err != nil {
		return Answer{}, fmt.Errorf("failed to write prompt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}

	select {
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case res := <-s.readLine():
		s.readMu.Lock()
		s.reading = false
		s.readMu.Unlock()

		if res.err != nil && res.line == "" {
			if errors.Is(res.err, io.EOF) {
				return Answer{}, ErrClosed
			}
			return Answer{}, fmt.Errorf("failed to read answer: %w", res.err)
		}
		return Answer{Text: strings.TrimSpace(res.line)}, nil
	}
}

// readLine starts a read unless one is already outstanding. The reader
// never blocks on delivery because lines holds one result.
func (s *Interactive) readLine() <-chan readResult {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if !s.reading {
		s.reading = true
		go func() {
			line, err := s.in.ReadString('\n')
			s.lines <- readResult{line: line, err: err}
		}()
	}
	return s.lines
}

// Output returns everything that was written to the terminal.
func (s *Interactive) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *Interactive) write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.buf.WriteString(text)
	if _, err := io.WriteString(s.out, text); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
