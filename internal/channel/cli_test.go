package channel

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"klix/internal/agent"
	"klix/internal/config"
	"klix/internal/tool"
)

func TestSummarizeArgs(t *testing.T) {
	if got := summarizeArgs(nil); got != "" {
		t.Errorf("nil args: %q", got)
	}

	got := summarizeArgs(map[string]any{"path": "main.go", "content": "x"})
	if got != "content=x, path=main.go" {
		t.Errorf("keys should be sorted: %q", got)
	}

	long := strings.Repeat("a", 60)
	got = summarizeArgs(map[string]any{"content": long})
	if !strings.HasSuffix(got, "...") || len(got) > len("content=")+43 {
		t.Errorf("long value not truncated: %q", got)
	}

	got = summarizeArgs(map[string]any{"a": 1, "b": 2, "c": 3, "d": 4})
	if !strings.HasSuffix(got, ", ...") {
		t.Errorf("arg count not capped: %q", got)
	}
	if strings.Contains(got, "d=4") {
		t.Errorf("fourth arg should be elided: %q", got)
	}
}

func TestTerminalRendererOutput(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(TerminalConfig{In: strings.NewReader(""), Out: &buf})

	term.Message("hello")
	term.Success("done")
	term.Error("boom")
	term.ToolCall("read_file", map[string]any{"path": "go.mod"})
	term.ToolCall("list_files", nil)

	out := buf.String()
	for _, want := range []string{
		"Klix> hello",
		"✓ done",
		"✗ boom",
		"⚡ read_file(path=go.mod)",
		"⚡ list_files\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSpinnerStartStopIdempotent(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(TerminalConfig{In: strings.NewReader(""), Out: &buf})

	// Double start and double stop must not panic or leak.
	term.StartThinking()
	term.StartThinking()
	term.StopThinking()
	term.StopThinking()
}

func TestStopThinkingAwaitsSpinner(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(TerminalConfig{In: strings.NewReader(""), Out: &buf})

	term.StartThinking()
	time.Sleep(250 * time.Millisecond)
	term.StopThinking()

	if !strings.HasSuffix(buf.String(), "\r\033[K") {
		t.Errorf("line clear must be the last write:\n%q", buf.String())
	}
	n := buf.Len()
	time.Sleep(250 * time.Millisecond)
	if buf.Len() != n {
		t.Error("spinner frame printed after stop")
	}
}

func newREPLTerminal(t *testing.T, in io.Reader, out io.Writer) *Terminal {
	t.Helper()
	term := NewTerminal(TerminalConfig{In: in, Out: out})
	cfg := &config.Config{Window: config.WindowConfig{MaxMessages: 50, WindowSize: 20}}
	a := agent.New(agent.Config{
		Provider: stubProvider{},
		Registry: tool.NewRegistry(nil),
		Renderer: term,
		AppCfg:   cfg,
	})
	d := agent.NewDispatcher(agent.DispatcherConfig{Agent: a, AppCfg: cfg, Renderer: term})
	term.Bind(a, d)
	return term
}

func TestRunQuitCommand(t *testing.T) {
	var buf bytes.Buffer
	term := newREPLTerminal(t, strings.NewReader("/quit\n"), &buf)

	if err := term.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "Bye.") {
		t.Errorf("quit farewell missing:\n%s", buf.String())
	}
}

func TestRunInterruptNeedsConfirmation(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	var buf bytes.Buffer
	term := newREPLTerminal(t, pr, &buf)
	term.interrupts = make(chan os.Signal, 2)

	done := make(chan error, 1)
	go func() { done <- term.Run(context.Background()) }()

	term.interrupts <- os.Interrupt
	term.interrupts <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit after the second interrupt")
	}

	out := buf.String()
	if !strings.Contains(out, "Press Ctrl-C again") {
		t.Errorf("first interrupt should ask for confirmation:\n%s", out)
	}
	if !strings.Contains(out, "Bye.") {
		t.Errorf("second interrupt should exit:\n%s", out)
	}
}
