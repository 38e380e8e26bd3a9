package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAccumulator_EmitAndAsk(t *testing.T) {
	ctx := context.Background()
	acc := NewAccumulator()

	if err := acc.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := acc.Emit(ctx, "building"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	answer, err := acc.Ask(ctx, "continue?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !answer.Empty() {
		t.Errorf("expected empty answer, got %+v", answer)
	}

	if got, want := acc.Output(), "building\ncontinue?\n"; got != want {
		t.Errorf("expected output %q, got %q", want, got)
	}
}

func TestAccumulator_StoppedRejectsWrites(t *testing.T) {
	ctx := context.Background()
	acc := NewAccumulator()
	_ = acc.Emit(ctx, "before")

	if err := acc.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := acc.Emit(ctx, "after"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Emit, got %v", err)
	}
	if _, err := acc.Ask(ctx, "after?"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ask, got %v", err)
	}
	if got := acc.Output(); got != "before\n" {
		t.Errorf("output changed after stop: %q", got)
	}
}

func TestAccumulator_ConcurrentEmit(t *testing.T) {
	ctx := context.Background()
	acc := NewAccumulator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = acc.Emit(ctx, "line")
		}()
	}
	wg.Wait()

	if n := strings.Count(acc.Output(), "line\n"); n != 50 {
		t.Errorf("expected 50 lines, got %d", n)
	}
}

func TestInteractive_AskReadsLine(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	s := NewInteractive(strings.NewReader("yes please\n"), &out)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Emit(ctx, "hello"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	answer, err := s.Ask(ctx, "proceed?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if answer.Text != "yes please" {
		t.Errorf("expected answer %q, got %q", "yes please", answer.Text)
	}
	if !strings.Contains(out.String(), "proceed?") {
		t.Errorf("question not written to terminal: %q", out.String())
	}
	if got, want := s.Output(), "hello\nproceed?\n"; got != want {
		t.Errorf("expected output %q, got %q", want, got)
	}
}

func TestInteractive_EOFClosesSink(t *testing.T) {
	ctx := context.Background()
	s := NewInteractive(strings.NewReader(""), &bytes.Buffer{})
	_ = s.Start(ctx)

	if _, err := s.Ask(ctx, "anyone?"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on EOF, got %v", err)
	}
}

func TestInteractive_AskHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The writer side is never written to.
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewInteractive(pr, &bytes.Buffer{})

	if _, err := s.Ask(ctx, "waiting"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInteractive_NoInputReadWithoutAsk(t *testing.T) {
	ctx := context.Background()
	in := strings.NewReader("unanswered line\n")

	for i := 0; i < 20; i++ {
		s := NewInteractive(in, io.Discard)
		if err := s.Start(ctx); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		_ = s.Emit(ctx, "working")
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	}

	rest, err := io.ReadAll(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(rest) != "unanswered line\n" {
		t.Errorf("input was consumed by sinks that never asked: %q left", rest)
	}
}

func TestInteractive_LateLineGoesToNextAsk(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewInteractive(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Ask(ctx, "first?")
		done <- err
	}()

	// Wait until the first Ask is blocked on input, then abandon it.
	deadline := time.Now().Add(2 * time.Second)
	for !s.isReading() {
		if time.Now().After(deadline) {
			t.Fatal("Ask never started reading")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	go func() { _, _ = io.WriteString(pw, "blue\n") }()

	answer, err := s.Ask(context.Background(), "second?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if answer.Text != "blue" {
		t.Errorf("expected answer %q, got %q", "blue", answer.Text)
	}
}

func (s *Interactive) isReading() bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.reading
}
