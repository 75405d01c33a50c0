// Package llmclient provides a provider-agnostic chat-completion client
// used by the planning coordinator and the context compressor. Concrete
// implementations wrap the Anthropic and OpenAI-compatible SDKs; callers
// never import those SDKs directly.
package llmclient

import "context"

// Role mirrors contextstore.ChatRole's values without importing that
// package, keeping llmclient usable by anything that speaks plain chat
// turns (the coordinator maps contextstore.ChatMessage to Message at the
// call site).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat-completion request.
type Message struct {
	Role    Role
	Content string
}

// ToolDefinition describes one function-callable tool in provider-neutral
// form: a name, a human description, and a JSON Schema object
// (https://json-schema.org) for its arguments. Each concrete Client
// translates this into its own provider's function-calling schema
// (anthropic.ToolUnionParam, openai.Tool, ...).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is one function call the model chose to make, parsed back out
// of the provider's native tool-use/tool_calls representation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Request is a single, non-streaming completion request. The coordinator
// issues one of these per planning/execution/reflection round; nothing in
// this module's usage needs token-by-token streaming. Tools is populated
// only during the execution phase, where the environment manager's
// command-executor and text-editor surfaces are exposed as callable
// functions instead of being described in the prompt text.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Response is the model's reply plus usage accounting needed for
// should_compress threshold checks and cost logging. ToolCalls is set
// when the model chose to invoke one or more of Request.Tools instead of
// (or alongside) replying in plain text.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client is the capability the rest of the system depends on. Both
// concrete implementations (Anthropic, OpenAI-compatible) satisfy it, and
// callers that only need summarization (internal/compress) use the
// narrower Summarizer method via an adapter.
type Client interface {
	// Complete issues one non-streaming completion request.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name identifies the underlying provider, for logging/metrics.
	Name() string
}

// Summarizer adapts a Client to satisfy compress.Summarizer without
// internal/compress importing this package.
type Summarizer struct {
	Client Client
}

// Summarize implements compress.Summarizer.
func (s Summarizer) Summarize(ctx context.Context, instructionPrompt, conversationText string) (string, int, error) {
	resp, err := s.Client.Complete(ctx, Request{
		System:   instructionPrompt,
		Messages: []Message{{Role: RoleUser, Content: conversationText}},
	})
	if err != nil {
		return "", 0, err
	}
	return resp.Content, resp.OutputTokens, nil
}
