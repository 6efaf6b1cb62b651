package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation. Content carries plain text;
// ToolCall and ToolResult carry the structured tool round-trip blocks.
type Message struct {
	Role       string
	Content    string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Context is the full input for one model call: an optional system prompt,
// the append-only conversation so far, and the tools the model may request.
type Context struct {
	System   string
	Messages []Message
	Tools    []Tool
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the model's output: either free text or one or more tool calls.
type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
	ToolCalls    []ToolCall
	Thinking     string
}

// HasToolCall reports whether the model requested a tool invocation.
func (r Response) HasToolCall() bool { return len(r.ToolCalls) > 0 }

// ToolCall names a registered tool and the arguments the model chose for it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult carries a tool's output (or failure marker) back into the
// conversation for the finalize call.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	Failed  bool
	Error   string
}

type Adapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	// Stream generates a response while invoking onDelta for each text
	// chunk as it arrives. The returned Response carries the assembled
	// text and the usage reported by the provider.
	Stream(ctx context.Context, input Context, onDelta func(string)) (Response, error)
	MapTools(tools []Tool) (providerTools any, err error)
	ToProviderFormat(ctx Context) (any, error)
	FromProviderFormat(raw any) (Response, error)
	Name() string
}
