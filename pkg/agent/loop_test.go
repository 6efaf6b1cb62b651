package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fightiq/octagon/pkg/errorsx"
	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/metrics"
	"github.com/fightiq/octagon/pkg/providers/mock"
	"github.com/fightiq/octagon/pkg/tools"
)

func fightCardRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	tool := llm.Tool{
		Name:        "get_upcoming_event_fights",
		Description: "Fight card for the next UFC event",
	}
	err := reg.Register(tool, func(context.Context, map[string]any) (any, error) {
		return []map[string]any{
			{"fighter_1": "Alex Pereira", "fighter_2": "Magomed Ankalaev", "weight_class": "Light Heavyweight"},
			{"fighter_1": "Zhang Weili", "fighter_2": "Tatiana Suarez", "weight_class": "Strawweight"},
		}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func newTestLoop(adapter llm.Adapter, reg *tools.Registry, opts Options) *Loop {
	return NewLoop(adapter, reg, tools.NewDispatcher(reg, tools.DispatcherOptions{}), opts)
}

func TestRunToolPathProducesRecommendation(t *testing.T) {
	reg := fightCardRegistry(t)
	adapter := mock.NewAdapter(mock.Config{
		Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "get_upcoming_event_fights"}}},
			{Text: "Watch Alex Pereira: his power makes an upset likely.", Usage: llm.Usage{TotalTokens: 42}},
		},
	})
	obs := metrics.NewMemoryObserver()
	loop := newTestLoop(adapter, reg, Options{Observer: obs})

	out, err := loop.Run(context.Background(), "Who should I watch for upsets at the next event?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != StateDone {
		t.Fatalf("expected DONE, got %s", out.State)
	}
	if out.Answer == "" || !strings.Contains(out.Answer, "Pereira") {
		t.Fatalf("expected recommendation referencing a fighter from the card, got %q", out.Answer)
	}
	if out.ToolCall == nil || out.ToolCall.Name != "get_upcoming_event_fights" {
		t.Fatalf("expected tool call recorded, got %+v", out.ToolCall)
	}
	if out.ToolResult == nil || !strings.Contains(out.ToolResult.Content, "Zhang Weili") {
		t.Fatalf("expected tool result carried into outcome, got %+v", out.ToolResult)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected two model calls, got %d", adapter.Calls())
	}
	// The finalize call must see the tool result in the conversation.
	finalizeInput := adapter.Inputs[1]
	var sawResult bool
	for _, msg := range finalizeInput.Messages {
		if msg.ToolResult != nil && strings.Contains(msg.ToolResult.Content, "Pereira") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Fatalf("finalize call missing tool result context: %+v", finalizeInput.Messages)
	}
}

func TestRunDirectAnswerSkipsDispatcher(t *testing.T) {
	reg := tools.NewRegistry()
	dispatcherCalled := false
	if err := reg.Register(llm.Tool{Name: "get_upcoming_event_fights"}, func(context.Context, map[string]any) (any, error) {
		dispatcherCalled = true
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter := mock.NewAdapter(mock.Config{
		Responses: []llm.Response{{Text: "The capital of France is Paris."}},
	})
	var transitions []State
	loop := newTestLoop(adapter, reg, Options{})
	loop.AddListener(ListenerFunc(func(ev StateChange) {
		transitions = append(transitions, ev.ToState)
	}))

	out, err := loop.Run(context.Background(), "What's the capital of France?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != StateDone || out.Answer != "The capital of France is Paris." {
		t.Fatalf("expected direct answer, got %+v", out)
	}
	if dispatcherCalled {
		t.Fatalf("dispatcher must not run for a direct answer")
	}
	if adapter.Calls() != 1 {
		t.Fatalf("expected a single model call, got %d", adapter.Calls())
	}
	if len(transitions) != 1 || transitions[0] != StateDone {
		t.Fatalf("expected AWAITING_TOOL_SELECTION -> DONE only, got %v", transitions)
	}
}

func TestRunAbortsWhenToolArgsInvalid(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(llm.Tool{
		Name:   "get_upcoming_matchups",
		Params: []llm.Param{{Name: "max_events", Type: llm.TypeInteger, Required: true}},
	}, func(context.Context, map[string]any) (any, error) {
		t.Fatalf("handler must not run")
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter := mock.NewAdapter(mock.Config{
		Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "get_upcoming_matchups"}}},
		},
	})
	loop := newTestLoop(adapter, reg, Options{})

	out, err := loop.Run(context.Background(), "show me everything")
	if err == nil {
		t.Fatalf("expected aborted run")
	}
	if out.State != StateAborted {
		t.Fatalf("expected ABORTED, got %s", out.State)
	}
	if !strings.Contains(err.Error(), "max_events") {
		t.Fatalf("expected validation detail surfaced, got %v", err)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("finalize must not run after tool failure, calls=%d", adapter.Calls())
	}
}

func TestRunAbortsOnUnknownToolSelection(t *testing.T) {
	reg := fightCardRegistry(t)
	adapter := mock.NewAdapter(mock.Config{
		Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "get_judges_scorecards"}}},
		},
	})
	loop := newTestLoop(adapter, reg, Options{})
	out, err := loop.Run(context.Background(), "scorecards please")
	if err == nil || out.State != StateAborted {
		t.Fatalf("expected aborted run, got out=%+v err=%v", out, err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonToolUnknown) {
		t.Fatalf("expected tool_unknown reason, got %s", errorsx.Reason(err))
	}
}

func TestRunAbortsOnProviderError(t *testing.T) {
	reg := fightCardRegistry(t)
	adapter := mock.NewAdapter(mock.Config{Err: errors.New("connection refused")})
	loop := newTestLoop(adapter, reg, Options{
		Retry: llm.RetryConfig{MaxAttempts: 2, Sleep: func(time.Duration) {}},
	})
	out, err := loop.Run(context.Background(), "anything")
	if err == nil || out.State != StateAborted {
		t.Fatalf("expected aborted run, got out=%+v err=%v", out, err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonLLMSelect) {
		t.Fatalf("expected llm_select reason, got %s", errorsx.Reason(err))
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected bounded retry of 2 attempts, got %d", adapter.Calls())
	}
}

func TestRunStreamsFinalAnswer(t *testing.T) {
	reg := fightCardRegistry(t)
	adapter := mock.NewAdapter(mock.Config{
		Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "get_upcoming_event_fights"}}},
			{Text: "Pereira by knockout.", Usage: llm.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40}},
		},
		StreamChunks: []string{"Pereira ", "by ", "knockout."},
	})
	var chunks []string
	loop := newTestLoop(adapter, reg, Options{
		OnDelta: func(chunk string) { chunks = append(chunks, chunk) },
	})
	out, err := loop.Run(context.Background(), "upset pick?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Answer != "Pereira by knockout." {
		t.Fatalf("expected assembled answer, got %q", out.Answer)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 streamed chunks, got %d", len(chunks))
	}
	// Streamed finalize calls still account for tokens.
	if out.Usage.TotalTokens != 40 {
		t.Fatalf("usage = %+v", out.Usage)
	}
}
