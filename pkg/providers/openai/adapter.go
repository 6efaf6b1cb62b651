package openai

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

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) MapTools(tools []llm.Tool) (any, error) {
	var out []map[string]any
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema(),
			},
		})
	}
	return out, nil
}

func (a *Adapter) ToProviderFormat(ctx llm.Context) (any, error) {
	messages := make([]map[string]any, 0, len(ctx.Messages)+1)
	if strings.TrimSpace(ctx.System) != "" {
		messages = append(messages, map[string]any{
			"role":    llm.RoleSystem,
			"content": ctx.System,
		})
	}
	for _, msg := range ctx.Messages {
		switch {
		case msg.ToolCall != nil:
			args, err := json.Marshal(msg.ToolCall.Arguments)
			if err != nil {
				return nil, err
			}
			messages = append(messages, map[string]any{
				"role":    llm.RoleAssistant,
				"content": msg.Content,
				"tool_calls": []map[string]any{{
					"id":   msg.ToolCall.ID,
					"type": "function",
					"function": map[string]any{
						"name":      msg.ToolCall.Name,
						"arguments": string(args),
					},
				}},
			})
		case msg.ToolResult != nil:
			content := msg.ToolResult.Content
			if msg.ToolResult.Failed {
				content = msg.ToolResult.Error
			}
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": msg.ToolResult.CallID,
				"content":      content,
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
	choices, _ := m["choices"].([]any)
	if len(choices) == 0 {
		return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: "no choices"}
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	resp := llm.Response{Text: content}
	if reason, _ := first["finish_reason"].(string); reason != "" {
		resp.FinishReason = reason
	}
	if usage, ok := m["usage"].(map[string]any); ok {
		resp.Usage = usageFromPayload(usage)
	}
	if tc, ok := msg["tool_calls"].([]any); ok {
		for _, item := range tc {
			call, _ := item.(map[string]any)
			fn, _ := call["function"].(map[string]any)
			name := stringValue(fn["name"])
			if name == "" {
				return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: "tool call without name"}
			}
			argsRaw, _ := fn["arguments"].(string)
			args := map[string]any{}
			if argsRaw != "" {
				if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
					return llm.Response{}, llm.MalformedResponseError{Provider: a.Name(), Detail: "tool call arguments are not valid JSON"}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        stringValue(call["id"]),
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
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
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
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
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
		if data == "[DONE]" {
			break
		}
		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		// With include_usage set, the final chunk carries usage and an
		// empty choices list.
		if usage, ok := chunk["usage"].(map[string]any); ok {
			out.Usage = usageFromPayload(usage)
		}
		choices, _ := chunk["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		first, _ := choices[0].(map[string]any)
		delta, _ := first["delta"].(map[string]any)
		if text, _ := delta["content"].(string); text != "" {
			sb.WriteString(text)
			if onDelta != nil {
				onDelta(text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Response{}, err
	}
	out.Text = sb.String()
	return out, nil
}

func (a *Adapter) buildRequest(input llm.Context, stream bool) (*bytes.Buffer, error) {
	messages, err := a.ToProviderFormat(input)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"model":    a.Model,
		"stream":   stream,
		"messages": messages,
	}
	if len(input.Tools) > 0 {
		tools, err := a.MapTools(input.Tools)
		if err != nil {
			return nil, err
		}
		req["tools"] = tools
		req["tool_choice"] = "auto"
	}
	if stream {
		req["stream_options"] = map[string]any{"include_usage": true}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func usageFromPayload(usage map[string]any) llm.Usage {
	return llm.Usage{
		PromptTokens:     intValue(usage["prompt_tokens"]),
		CompletionTokens: intValue(usage["completion_tokens"]),
		TotalTokens:      intValue(usage["total_tokens"]),
	}
}
