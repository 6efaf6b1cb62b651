package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fightiq/octagon/pkg/errorsx"
	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/metrics"
	"github.com/fightiq/octagon/pkg/redact"
	"github.com/fightiq/octagon/pkg/resilience"
	"github.com/fightiq/octagon/pkg/tools"
)

// Options tune one Loop. Zero values fall back to sensible defaults.
type Options struct {
	SelectPrompt   string
	FinalizePrompt string
	CallTimeout    time.Duration
	Retry          llm.RetryConfig
	Logger         *slog.Logger
	Observer       metrics.Observer
	Redactor       *redact.Redactor

	// OnDelta, when set, streams finalize-phase text chunks as they arrive.
	OnDelta func(chunk string)
}

// Outcome is the terminal result of one agent run.
type Outcome struct {
	RunID      string
	Answer     string
	State      State
	ToolCall   *llm.ToolCall
	ToolResult *llm.ToolResult
	Usage      llm.Usage
}

// Loop orchestrates the two-phase workflow: a tool-selection call, the tool
// execution, and a finalize call that folds the tool's output back into the
// conversation. A Loop holds no per-run state and is safe for concurrent use.
type Loop struct {
	adapter    llm.Adapter
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	opts       Options
	listeners  []StateListener
}

func NewLoop(adapter llm.Adapter, registry *tools.Registry, dispatcher *tools.Dispatcher, opts Options) *Loop {
	if opts.SelectPrompt == "" {
		opts.SelectPrompt = DefaultSelectPrompt
	}
	if opts.FinalizePrompt == "" {
		opts.FinalizePrompt = DefaultFinalizePrompt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	return &Loop{
		adapter:    adapter,
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// AddListener registers a listener for state change events on every run.
func (l *Loop) AddListener(listener StateListener) {
	l.listeners = append(l.listeners, listener)
}

// Run executes one query to a terminal state. The returned Outcome always
// carries the terminal state; err is non-nil exactly when that state is
// Aborted.
func (l *Loop) Run(ctx context.Context, query string) (Outcome, error) {
	runID := uuid.NewString()
	sm := newStateMachine(runID, l.listeners...)
	log := l.opts.Logger.With(slog.String("run_id", runID))
	started := time.Now()

	out := Outcome{RunID: runID}
	log.Info("user_query", "text", l.opts.Redactor.Text(query))

	conversation := []llm.Message{{Role: llm.RoleUser, Content: query}}

	// Phase 1: tool selection.
	selectStart := time.Now()
	resp, err := l.generate(ctx, l.opts.SelectPrompt, conversation)
	l.record(metrics.EventToolSelect, runID, time.Since(selectStart), map[string]string{"status": callStatus(err)})
	if err != nil {
		return l.abort(sm, log, out, selectReason(err), fmt.Errorf("tool selection: %w", err))
	}
	l.recordUsage(runID, "select", resp.Usage)
	out.Usage = addUsage(out.Usage, resp.Usage)

	if !resp.HasToolCall() {
		// Model decided no tool is needed; its text is the answer.
		if strings.TrimSpace(resp.Text) == "" {
			return l.abort(sm, log, out, errorsx.ReasonLLMMalformed,
				llm.MalformedResponseError{Provider: l.adapter.Name(), Detail: "empty direct answer"})
		}
		out.Answer = resp.Text
		out.State = StateDone
		if err := sm.Transition(StateDone, "direct answer"); err != nil {
			return l.abort(sm, log, out, errorsx.ReasonUnknown, err)
		}
		log.Info("final_answer", "via_tool", false, "text", l.opts.Redactor.Text(resp.Text))
		l.recordDone(runID, started, false)
		return out, nil
	}

	call := resp.ToolCalls[0]
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	out.ToolCall = &call
	log.Info("tool_selected", "tool", call.Name, "args", call.Arguments)

	if err := sm.Transition(StateToolExecuting, "tool selected: "+call.Name); err != nil {
		return l.abort(sm, log, out, errorsx.ReasonUnknown, err)
	}
	conversation = append(conversation, llm.Message{
		Role:     llm.RoleAssistant,
		Content:  resp.Text,
		ToolCall: &call,
	})

	// Phase 2: tool execution.
	result, err := l.dispatcher.Invoke(ctx, call)
	if err != nil {
		return l.abort(sm, log, out, errorsx.Reason(err), fmt.Errorf("tool dispatch: %w", err))
	}
	out.ToolResult = &result
	if result.Failed {
		// No silent retry here: the failure is surfaced to the caller.
		reason := errorsx.ReasonToolExec
		if tools.IsTimeoutResult(result) {
			reason = errorsx.ReasonToolTimeout
		}
		return l.abort(sm, log, out, reason,
			fmt.Errorf("tool %s failed: %s", call.Name, result.Error))
	}
	log.Info("tool_result", "tool", call.Name, "bytes", len(result.Content))

	if err := sm.Transition(StateAwaitingFinalAnswer, "tool result ready"); err != nil {
		return l.abort(sm, log, out, errorsx.ReasonUnknown, err)
	}
	conversation = append(conversation, llm.Message{
		Role:       llm.RoleUser,
		ToolResult: &result,
	})

	// Phase 3: finalize.
	finalizeStart := time.Now()
	answer, usage, err := l.finalize(ctx, conversation)
	l.record(metrics.EventFinalize, runID, time.Since(finalizeStart), map[string]string{"status": callStatus(err)})
	if err != nil {
		return l.abort(sm, log, out, finalizeReason(err), fmt.Errorf("finalize: %w", err))
	}
	l.recordUsage(runID, "finalize", usage)
	out.Usage = addUsage(out.Usage, usage)

	if strings.TrimSpace(answer) == "" {
		return l.abort(sm, log, out, errorsx.ReasonLLMMalformed,
			llm.MalformedResponseError{Provider: l.adapter.Name(), Detail: "empty final answer"})
	}
	out.Answer = answer
	out.State = StateDone
	if err := sm.Transition(StateDone, "final answer"); err != nil {
		return l.abort(sm, log, out, errorsx.ReasonUnknown, err)
	}
	log.Info("final_answer", "via_tool", true, "text", l.opts.Redactor.Text(answer))
	l.recordDone(runID, started, true)
	return out, nil
}

func (l *Loop) generate(ctx context.Context, system string, conversation []llm.Message) (llm.Response, error) {
	input := llm.Context{
		System:   system,
		Messages: conversation,
		Tools:    l.registry.DescribeAll(),
	}
	return llm.Retry(ctx, l.opts.Retry, func(c context.Context) (llm.Response, error) {
		cctx := c
		if l.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(c, l.opts.CallTimeout)
			defer cancel()
		}
		resp, err := l.adapter.Generate(cctx, input)
		if err != nil {
			return llm.Response{}, asProviderError(l.adapter.Name(), err)
		}
		return resp, nil
	})
}

func (l *Loop) finalize(ctx context.Context, conversation []llm.Message) (string, llm.Usage, error) {
	if l.opts.OnDelta == nil {
		resp, err := l.generate(ctx, l.opts.FinalizePrompt, conversation)
		if err != nil {
			return "", llm.Usage{}, err
		}
		return resp.Text, resp.Usage, nil
	}

	cctx := ctx
	if l.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.opts.CallTimeout)
		defer cancel()
	}
	input := llm.Context{
		System:   l.opts.FinalizePrompt,
		Messages: conversation,
		Tools:    l.registry.DescribeAll(),
	}
	resp, err := l.adapter.Stream(cctx, input, l.opts.OnDelta)
	if err != nil {
		return "", llm.Usage{}, asProviderError(l.adapter.Name(), err)
	}
	return resp.Text, resp.Usage, nil
}

func (l *Loop) abort(sm *stateMachine, log *slog.Logger, out Outcome, reason errorsx.ReasonCode, err error) (Outcome, error) {
	_ = sm.Transition(StateAborted, string(reason))
	out.State = StateAborted
	wrapped := errorsx.Wrap(err, reason)
	log.Error("run_aborted", "reason", string(errorsx.Reason(wrapped)), "error", err.Error())
	l.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventRunDone,
		Time: time.Now(),
		Tags: map[string]string{"run_id": out.RunID, "status": "aborted", "reason": string(errorsx.Reason(wrapped))},
	})
	return out, wrapped
}

func (l *Loop) record(name, runID string, elapsed time.Duration, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["run_id"] = runID
	l.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: elapsed.Seconds(),
		Tags:  tags,
	})
}

func (l *Loop) recordUsage(runID, phase string, usage llm.Usage) {
	if usage.TotalTokens == 0 {
		return
	}
	l.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventLLMTokens,
		Time:  time.Now(),
		Value: float64(usage.TotalTokens),
		Tags:  map[string]string{"run_id": runID, "phase": phase},
		Fields: map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
		},
	})
}

func (l *Loop) recordDone(runID string, started time.Time, viaTool bool) {
	l.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventRunDone,
		Time:  time.Now(),
		Value: time.Since(started).Seconds(),
		Tags: map[string]string{
			"run_id":   runID,
			"status":   "done",
			"via_tool": fmt.Sprintf("%t", viaTool),
		},
	})
}

func asProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if llm.IsMalformedResponse(err) || resilience.IsRateLimit(err) {
		return err
	}
	var pe llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return llm.ProviderError{Provider: provider, Err: err}
}

func selectReason(err error) errorsx.ReasonCode {
	switch {
	case resilience.IsRateLimit(err):
		return errorsx.ReasonLLMRateLimit
	case llm.IsMalformedResponse(err):
		return errorsx.ReasonLLMMalformed
	default:
		return errorsx.ReasonLLMSelect
	}
}

func finalizeReason(err error) errorsx.ReasonCode {
	switch {
	case resilience.IsRateLimit(err):
		return errorsx.ReasonLLMRateLimit
	case llm.IsMalformedResponse(err):
		return errorsx.ReasonLLMMalformed
	default:
		return errorsx.ReasonLLMFinalize
	}
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func addUsage(a, b llm.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
