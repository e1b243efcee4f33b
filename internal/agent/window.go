// Package agent implements the conversation turn loop, the sliding history
// window and the slash-command dispatcher.
package agent

import (
	"sync"

	"klix/internal/domain"
)

const (
	defaultMaxMessages = 50
	defaultWindowSize  = 20
)

// Window is the sliding conversation history. Once the total message count
// first exceeds maxMessages, eviction keeps every system message plus the
// last windowSize non-system messages, preserving original order, and keeps
// that shape on every later append.
type Window struct {
	mu          sync.Mutex
	msgs        []domain.Message
	maxMessages int
	windowSize  int
	sliding     bool
	usage       domain.Usage
	turns       int
}

func NewWindow(maxMessages, windowSize int) *Window {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Window{
		maxMessages: maxMessages,
		windowSize:  windowSize,
	}
}

func (w *Window) Add(msg domain.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	w.evict()
}

func (w *Window) evict() {
	if !w.sliding && len(w.msgs) <= w.maxMessages {
		return
	}
	w.sliding = true

	var nonSystem int
	for _, m := range w.msgs {
		if m.Role != domain.RoleSystem {
			nonSystem++
		}
	}
	drop := nonSystem - w.windowSize
	if drop <= 0 {
		return
	}

	kept := make([]domain.Message, 0, len(w.msgs)-drop)
	for _, m := range w.msgs {
		if m.Role != domain.RoleSystem && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, m)
	}
	w.msgs = kept
}

// Snapshot returns an independent copy of the current history.
func (w *Window) Snapshot() []domain.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Clear drops the conversation but keeps system messages, so the session
// prompt and any loaded project context survive. Token accounting starts
// over from zero.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	var kept []domain.Message
	for _, m := range w.msgs {
		if m.Role == domain.RoleSystem {
			kept = append(kept, m)
		}
	}
	w.msgs = kept
	w.sliding = false
	w.usage = domain.Usage{}
	w.turns = 0
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// RecordUsage accumulates token usage across a session.
func (w *Window) RecordUsage(u domain.Usage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usage.PromptTokens += u.PromptTokens
	w.usage.CompletionTokens += u.CompletionTokens
	w.usage.TotalTokens += u.TotalTokens
	w.turns++
}

// UsageTotals returns the accumulated token usage and turn count.
func (w *Window) UsageTotals() (domain.Usage, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage, w.turns
}
