package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/resilience"
)

const apiVersion = "2023-06-01"

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client

	// MaxTokens caps each completion; the Messages API requires it.
	MaxTokens int
	// ThinkingBudget, when positive, enables extended thinking with that
	// token budget.
	ThinkingBudget int
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:    apiKey,
		Model:     model,
		BaseURL:   "https://api.anthropic.com/v1",
		Client:    &http.Client{Timeout: 60 * time.Second},
		MaxTokens: 4096,
	}
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) MapTools(tools []llm.Tool) (any, error) {
	var out []map[string]any
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Schema(),
		})
	}
	return out, nil
}

func (a *Adapter) ToProviderFormat(ctx llm.Context) (any, error) {
	messages := make([]map[string]any, 0, len(ctx.Messages))
	for _, msg := range ctx.Messages {
		switch {
		case msg.ToolCall != nil:
			blocks := []map[string]any{}
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    msg.ToolCall.ID,
				"name":  msg.ToolCall.Name,
				"input": msg.ToolCall.Arguments,
			})
			messages = append(messages, map[string]any{
				"role":    llm.RoleAssistant,
				"content": blocks,
			})
		case msg.ToolResult != nil:
			content := msg.ToolResult.Content
			if msg.ToolResult.Failed {
				content = msg.ToolResult.Error
			}
			messages = append(messages, map[string]any{
				"role": llm.RoleUser,
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolResult.CallID,
					"content":     content,
					"is_error":    msg.ToolResult.Failed,
				}},
			})
		default:
			messages = append(messages, map[string]any{
				"role":    msg.Role,
				"content": msg.Content,
			})
		}
	}
	return messages, nil
}

func (a *Adapter) FromProviderFormat(raw any) (llm.Response, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: "payload is not an object"}
	}
	content, _ := m["content"].([]any)
	if len(content) == 0 {
		return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: "no content blocks"}
	}
	var resp llm.Response
	if reason, _ := m["stop_reason"].(string); reason != "" {
		resp.FinishReason = reason
	}
	if usage, ok := m["usage"].(map[string]any); ok {
		in := intValue(usage["input_tokens"])
		out := intValue(usage["output_tokens"])
		resp.Usage = llm.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		}
	}
	for _, item := range content {
		block, _ := item.(map[string]any)
		switch block["type"] {
		case "text":
			text, _ := block["text"].(string)
			resp.Text += text
		case "thinking":
			thinking, _ := block["thinking"].(string)
			resp.Thinking = thinking
		case "tool_use":
			name, _ := block["name"].(string)
			if name == "" {
				return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: "tool_use block without name"}
			}
			args, _ := block["input"].(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        stringValue(block["id"]),
				Name:      name,
				Arguments: args,
			})
		}
	}
	return resp, nil
}

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	body, err := a.buildRequest(input, false)
	if err != nil {
		return llm.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/messages", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, resilience.RateLimitError{Provider: a.Name(), Message: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, errors.New(string(body))
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: err.Error()}
	}
	return a.FromProviderFormat(payload)
}

func (a *Adapter) Stream(ctx context.Context, input llm.Context, onDelta func(string)) (llm.Response, error) {
	body, err := a.buildRequest(input, true)
	if err != nil {
		return llm.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/messages", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, resilience.RateLimitError{Provider: a.Name(), Message: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, errors.New(string(body))
	}
	var out llm.Response
	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		switch event["type"] {
		case "message_start":
			if msg, ok := event["message"].(map[string]any); ok {
				out.Usage = mergeStreamUsage(out.Usage, msg["usage"])
			}
		case "content_block_delta":
			delta, _ := event["delta"].(map[string]any)
			if delta["type"] == "text_delta" {
				if text, _ := delta["text"].(string); text != "" {
					sb.WriteString(text)
					if onDelta != nil {
						onDelta(text)
					}
				}
			}
		case "message_delta":
			// usage.output_tokens here is cumulative and supersedes
			// the message_start figure.
			out.Usage = mergeStreamUsage(out.Usage, event["usage"])
		case "message_stop":
			out.Text = sb.String()
			return out, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Response{}, err
	}
	out.Text = sb.String()
	return out, nil
}

func mergeStreamUsage(usage llm.Usage, raw any) llm.Usage {
	m, ok := raw.(map[string]any)
	if !ok {
		return usage
	}
	if v, ok := m["input_tokens"].(float64); ok {
		usage.PromptTokens = int(v)
	}
	if v, ok := m["output_tokens"].(float64); ok {
		usage.CompletionTokens = int(v)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

func (a *Adapter) buildRequest(input llm.Context, stream bool) (*bytes.Buffer, error) {
	messages, err := a.ToProviderFormat(input)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"model":      a.Model,
		"max_tokens": a.maxTokens(),
		"messages":   messages,
	}
	if stream {
		req["stream"] = true
	}
	if strings.TrimSpace(input.System) != "" {
		req["system"] = input.System
	}
	if len(input.Tools) > 0 {
		tools, err := a.MapTools(input.Tools)
		if err != nil {
			return nil, err
		}
		req["tools"] = tools
	}
	if a.ThinkingBudget > 0 {
		req["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": a.ThinkingBudget,
		}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *Adapter) maxTokens() int {
	if a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return 4096
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	f, _ := v.(float64)
	return int(f)
}
