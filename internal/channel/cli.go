// Package channel provides the terminal and REST front-ends.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"klix/internal/agent"
)

// Terminal is the interactive REPL. It implements agent.Renderer so the
// turn loop can print replies, tool activity and the thinking spinner.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	agent      *agent.Agent
	dispatcher *agent.Dispatcher

	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}

	// interrupts receives Ctrl-C while the REPL waits for input. Tests
	// inject their own channel; Run wires it to os.Interrupt otherwise.
	interrupts chan os.Signal
}

type TerminalConfig struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

func NewTerminal(cfg TerminalConfig) *Terminal {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Terminal{
		in:     cfg.In,
		out:    cfg.Out,
		logger: cfg.Logger,
	}
}

// Bind attaches the agent and dispatcher. The terminal is constructed
// first because the agent needs it as its renderer.
func (t *Terminal) Bind(a *agent.Agent, d *agent.Dispatcher) {
	t.agent = a
	t.dispatcher = d
}

// Run drives the REPL until /quit, EOF, a confirmed interrupt or context
// cancellation. The first Ctrl-C at the prompt asks for confirmation; a
// second one exits.
func (t *Terminal) Run(ctx context.Context) error {
	fmt.Fprintf(t.out, "Klix, using %s (%s). Type /help for commands, /quit to exit.\n",
		t.agent.Provider().Name(), t.agent.Provider().Model())

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	if t.interrupts == nil {
		t.interrupts = make(chan os.Signal, 1)
		signal.Notify(t.interrupts, os.Interrupt)
		defer signal.Stop(t.interrupts)
	}

	confirming := false
	for {
		fmt.Fprint(t.out, "\nYou> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.interrupts:
			if confirming {
				fmt.Fprintln(t.out, "\nBye.")
				return nil
			}
			confirming = true
			fmt.Fprintln(t.out, "\nPress Ctrl-C again (or type /quit) to exit.")
		case raw, ok := <-lines:
			if !ok {
				return <-readErr // EOF or read failure
			}
			confirming = false

			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			if agent.IsCommand(line) {
				res := t.dispatcher.Handle(ctx, line)
				if res.Quit {
					fmt.Fprintln(t.out, "Bye.")
					return nil
				}
				continue
			}
			t.runTurn(ctx, line)
		}
	}
}

// runTurn isolates a single turn so a panic in tool or provider code kills
// the turn, not the session.
func (t *Terminal) runTurn(ctx context.Context, line string) {
	defer func() {
		if r := recover(); r != nil {
			t.StopThinking()
			t.logger.Error("turn panicked", "panic", r)
			t.Error(fmt.Sprintf("internal error: %v", r))
		}
	}()
	// Turn reports errors through the renderer already.
	_ = t.agent.Turn(ctx, line)
}

// agent.Renderer implementation.

func (t *Terminal) Message(content string) {
	t.clearSpinnerLine()
	fmt.Fprintf(t.out, "\nKlix> %s\n", content)
}

func (t *Terminal) ToolCall(name string, args map[string]any) {
	t.clearSpinnerLine()
	summary := summarizeArgs(args)
	if summary != "" {
		fmt.Fprintf(t.out, "  ⚡ %s(%s)\n", name, summary)
		return
	}
	fmt.Fprintf(t.out, "  ⚡ %s\n", name)
}

func (t *Terminal) Info(msg string) {
	t.clearSpinnerLine()
	fmt.Fprintln(t.out, msg)
}

func (t *Terminal) Success(msg string) {
	t.clearSpinnerLine()
	fmt.Fprintf(t.out, "✓ %s\n", msg)
}

func (t *Terminal) Error(msg string) {
	t.clearSpinnerLine()
	fmt.Fprintf(t.out, "✗ %s\n", msg)
}

func (t *Terminal) StartThinking() {
	t.thinkMu.Lock()
	defer t.thinkMu.Unlock()
	if t.thinking {
		return
	}
	t.thinking = true
	t.thinkStop = make(chan struct{})
	t.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(t.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(t.thinkStop, t.thinkDone)
}

// StopThinking waits for the spinner goroutine to exit before clearing the
// line, so no frame can print after the clear.
func (t *Terminal) StopThinking() {
	t.thinkMu.Lock()
	defer t.thinkMu.Unlock()
	if !t.thinking {
		return
	}
	t.thinking = false
	close(t.thinkStop)
	<-t.thinkDone
	fmt.Fprint(t.out, "\r\033[K")
}

func (t *Terminal) clearSpinnerLine() {
	t.thinkMu.Lock()
	thinking := t.thinking
	t.thinkMu.Unlock()
	if thinking {
		fmt.Fprint(t.out, "\r\033[K")
	}
}

// summarizeArgs renders tool arguments compactly for the activity line.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		s := fmt.Sprintf("%v", args[k])
		if len(s) > 40 {
			s = s[:40] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, s))
	}
	if len(parts) > 3 {
		parts = parts[:3]
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

var _ agent.Renderer = (*Terminal)(nil)
