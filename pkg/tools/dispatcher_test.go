package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/metrics"
)

func matchupTool() llm.Tool {
	return llm.Tool{
		Name:        "get_upcoming_matchups",
		Description: "Fetch upcoming UFC matchups",
		Params: []llm.Param{
			{Name: "max_events", Type: llm.TypeInteger, Required: true},
			{Name: "include_stats", Type: llm.TypeBoolean},
		},
	}
}

func TestInvokeUnknownToolIsError(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, DispatcherOptions{})
	_, err := d.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "nope"})
	var unknown UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
}

func TestInvokeMissingRequiredArgYieldsFailureMarker(t *testing.T) {
	reg := NewRegistry()
	called := false
	if err := reg.Register(matchupTool(), func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{})
	res, err := d.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "get_upcoming_matchups"})
	if err != nil {
		t.Fatalf("validation failure must not raise, got %v", err)
	}
	if !res.Failed {
		t.Fatalf("expected failure marker")
	}
	if !strings.Contains(res.Error, "max_events") {
		t.Fatalf("expected missing argument named in error, got %q", res.Error)
	}
	if called {
		t.Fatalf("handler must not run when validation fails")
	}
}

func TestInvokeCoercesWeaklyTypedArguments(t *testing.T) {
	reg := NewRegistry()
	var got map[string]any
	if err := reg.Register(matchupTool(), func(_ context.Context, args map[string]any) (any, error) {
		got = args
		return []string{"done"}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{})
	res, err := d.Invoke(context.Background(), llm.ToolCall{
		ID:   "c1",
		Name: "get_upcoming_matchups",
		Arguments: map[string]any{
			"max_events":    float64(3), // JSON numbers decode as float64
			"include_stats": "true",
		},
	})
	if err != nil || res.Failed {
		t.Fatalf("invoke failed: err=%v result=%+v", err, res)
	}
	if got["max_events"] != 3 {
		t.Fatalf("expected coerced int 3, got %v (%T)", got["max_events"], got["max_events"])
	}
	if got["include_stats"] != true {
		t.Fatalf("expected coerced bool, got %v", got["include_stats"])
	}
	var decoded []string
	if err := json.Unmarshal([]byte(res.Content), &decoded); err != nil || decoded[0] != "done" {
		t.Fatalf("expected JSON-encoded value, got %q", res.Content)
	}
}

func TestInvokeUnknownArgumentFails(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(matchupTool(), noopTool); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{})
	res, err := d.Invoke(context.Background(), llm.ToolCall{
		ID:   "c1",
		Name: "get_upcoming_matchups",
		Arguments: map[string]any{
			"max_events": 2,
			"weightcuts": true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed || !strings.Contains(res.Error, "weightcuts") {
		t.Fatalf("expected unknown argument failure, got %+v", res)
	}
}

func TestInvokeCapturesHandlerErrorAndPanic(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(llm.Tool{Name: "failing"}, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("scrape blew up")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(llm.Tool{Name: "panicking"}, func(context.Context, map[string]any) (any, error) {
		panic("nil deref")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{})

	res, err := d.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "failing"})
	if err != nil || !res.Failed || !strings.Contains(res.Error, "scrape blew up") {
		t.Fatalf("expected execution failure marker, got err=%v res=%+v", err, res)
	}

	res, err = d.Invoke(context.Background(), llm.ToolCall{ID: "c2", Name: "panicking"})
	if err != nil || !res.Failed || !strings.Contains(res.Error, "panic") {
		t.Fatalf("expected panic captured as failure marker, got err=%v res=%+v", err, res)
	}
}

func TestInvokeTimeout(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(llm.Tool{Name: "slow"}, func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{Timeout: 20 * time.Millisecond})
	res, err := d.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "slow"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed || !strings.Contains(res.Error, "timeout") {
		t.Fatalf("expected timeout failure marker, got %+v", res)
	}
}

func TestInvokeRetriesTransientFailure(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	if err := reg.Register(llm.Tool{Name: "flaky"}, func(context.Context, map[string]any) (any, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("connection reset")
		}
		return "recovered", nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{Retries: 2, RetryBackoff: time.Millisecond})
	res, err := d.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "flaky"})
	if err != nil || res.Failed {
		t.Fatalf("expected retry to recover, got err=%v res=%+v", err, res)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestInvokeIdempotentForDeterministicTool(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(matchupTool(), func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"events": args["max_events"]}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(reg, DispatcherOptions{})
	call := llm.ToolCall{ID: "c1", Name: "get_upcoming_matchups", Arguments: map[string]any{"max_events": 2}}
	first, err := d.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	second, err := d.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if first.Content != second.Content || first.Failed != second.Failed {
		t.Fatalf("expected identical results, got %+v vs %+v", first, second)
	}
}

func TestInvokeRecordsMetrics(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(matchupTool(), noopTool); err != nil {
		t.Fatalf("register: %v", err)
	}
	obs := metrics.NewMemoryObserver()
	d := NewDispatcher(reg, DispatcherOptions{})
	d.SetObserver(obs)
	if _, err := d.Invoke(context.Background(), llm.ToolCall{
		ID: "c1", Name: "get_upcoming_matchups", Arguments: map[string]any{"max_events": 1},
	}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	events := obs.Snapshot()
	if len(events) != 1 || events[0].Name != metrics.EventToolExec {
		t.Fatalf("expected one tool_exec event, got %+v", events)
	}
	if events[0].Tags["status"] != "ok" {
		t.Fatalf("expected ok status, got %s", events[0].Tags["status"])
	}
}
