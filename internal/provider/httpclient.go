package provider

import (
	"net/http"
	"time"

	"klix/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// synthesizeCallID fills in tool-call ids for backends that omit them, so
// downstream tool-result messages can always reference their call.
func synthesizeCallID(calls []domain.ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + calls[i].Name
		}
	}
}

// finishReason derives the normalized finish reason from the presence of
// tool calls.
func finishReason(calls []domain.ToolCall) string {
	if len(calls) > 0 {
		return domain.FinishToolCalls
	}
	return domain.FinishStop
}

// systemInstruction returns the content of the last system message, falling
// back to the default prompt when the request carries none. Backends get a
// single system slot and the most recent one wins.
func systemInstruction(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleSystem {
			return msgs[i].Content
		}
	}
	return defaultSystemPrompt
}
