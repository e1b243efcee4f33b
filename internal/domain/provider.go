package domain

import "context"

// Finish reasons reported in ChatResponse. FinishToolCalls is set exactly
// when the response carries at least one tool call.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Provider is the interface all model backends implement. Adapters hold no
// conversation state between calls; every request is self-contained.
//
// An adapter locates the last system-role message in the request and uses it
// as the effective system content, falling back to DefaultSystemPrompt when
// none is present. This lets callers override the client-level default with
// per-turn memory-augmented content.
type Provider interface {
	Name() string
	Model() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream delivers the response as text increments. The returned
	// channel is closed when the backend is exhausted or ctx is cancelled;
	// abandoning the channel must not corrupt later non-streaming calls.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan string, error)
	// Generate produces a plain completion for a single prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	DefaultSystemPrompt() string
}

type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
}

// ChatResponse is the normalized result of one model call. A model that
// declined or was safety-filtered surfaces as empty Content with no error,
// so the caller can keep the conversation going.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls
	Usage        Usage
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
