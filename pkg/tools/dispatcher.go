package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/fightiq/octagon/pkg/errorsx"
	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/metrics"
	"github.com/fightiq/octagon/pkg/resilience"
)

var ErrToolTimeout = errors.New("tool timeout")

// IsTimeoutResult reports whether a failure marker was caused by the
// per-invocation timeout.
func IsTimeoutResult(r llm.ToolResult) bool {
	return r.Failed && strings.Contains(r.Error, ErrToolTimeout.Error())
}

// DispatcherOptions tune per-invocation execution behavior.
type DispatcherOptions struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Dispatcher resolves tool calls against a registry, validates arguments,
// and executes the handler. Validation and execution failures travel inside
// the ToolResult as a failure marker; only an unknown tool name is an error,
// since that is a protocol violation rather than a tool outcome.
type Dispatcher struct {
	registry *Registry
	opts     DispatcherOptions
	obs      metrics.Observer
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 150 * time.Millisecond
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		obs:      metrics.NoopObserver{},
		log:      slog.Default(),
	}
}

func (d *Dispatcher) SetObserver(obs metrics.Observer) {
	if obs != nil {
		d.obs = obs
	}
}

func (d *Dispatcher) SetLogger(log *slog.Logger) {
	if log != nil {
		d.log = log
	}
}

// Invoke runs one tool call to completion.
func (d *Dispatcher) Invoke(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	tool, fn, err := d.registry.Get(call.Name)
	if err != nil {
		return llm.ToolResult{}, err
	}

	result := llm.ToolResult{CallID: call.ID, Name: call.Name}

	args, verr := ValidateArgs(tool, call.Arguments)
	if verr != nil {
		d.log.Warn("tool_args_invalid", "tool", call.Name, "error", verr.Error())
		d.record(call.Name, "invalid_args", 0)
		result.Failed = true
		result.Error = verr.Error()
		return result, nil
	}

	start := time.Now()
	value, xerr := d.execWithRetry(ctx, call.Name, fn, args)
	elapsed := time.Since(start)
	if xerr != nil {
		status := "error"
		if errors.Is(xerr, ErrToolTimeout) {
			status = "timeout"
		}
		d.log.Warn("tool_exec_failed", "tool", call.Name, "status", status, "error", xerr.Error())
		d.record(call.Name, status, elapsed)
		result.Failed = true
		result.Error = ToolExecutionError{Tool: call.Name, Err: xerr}.Error()
		return result, nil
	}

	encoded, merr := json.Marshal(value)
	if merr != nil {
		d.record(call.Name, "error", elapsed)
		result.Failed = true
		result.Error = ToolExecutionError{Tool: call.Name, Err: merr}.Error()
		return result, nil
	}
	d.record(call.Name, "ok", elapsed)
	result.Content = string(encoded)
	return result, nil
}

func (d *Dispatcher) execWithRetry(ctx context.Context, name string, fn Func, args map[string]any) (any, error) {
	policy := resilience.RetryPolicy{MaxRetries: d.opts.Retries, Backoff: d.opts.RetryBackoff}
	var value any
	err := policy.Do(ctx, func() error {
		v, execErr := d.execWithTimeout(ctx, name, fn, args)
		if execErr != nil {
			return execErr
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (d *Dispatcher) execWithTimeout(ctx context.Context, name string, fn Func, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if d.opts.Timeout <= 0 {
		return fn(ctx, args)
	}
	tctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, e := fn(tctx, args)
		ch <- outcome{value: v, err: e}
	}()
	select {
	case out := <-ch:
		return out.value, out.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, ErrToolTimeout
		}
		return nil, tctx.Err()
	}
}

func (d *Dispatcher) record(tool, status string, elapsed time.Duration) {
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventToolExec,
		Time:  time.Now(),
		Value: elapsed.Seconds(),
		Tags: map[string]string{
			"tool":   tool,
			"status": status,
		},
	})
}

// ValidateArgs checks arguments against the tool's declared schema and
// coerces values to the declared types. Unknown and missing-required
// arguments are reported together.
func ValidateArgs(tool llm.Tool, args map[string]any) (map[string]any, error) {
	problems := make([]string, 0)
	out := make(map[string]any, len(args))

	unknown := make([]string, 0)
	for name := range args {
		if _, ok := tool.Param(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		problems = append(problems, fmt.Sprintf("unknown argument %q", name))
	}

	for _, p := range tool.Params {
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required argument %q", p.Name))
			}
			continue
		}
		coerced, err := coerceValue(p.Type, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("argument %q: %v", p.Name, err))
			continue
		}
		out[p.Name] = coerced
	}

	if len(problems) > 0 {
		return nil, errorsx.Wrap(ArgumentValidationError{Tool: tool.Name, Problems: problems}, errorsx.ReasonToolArgs)
	}
	return out, nil
}

func coerceValue(t llm.ParamType, raw any) (any, error) {
	switch t {
	case llm.TypeString:
		var s string
		if err := mapstructure.WeakDecode(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case llm.TypeInteger:
		var n int
		if err := mapstructure.WeakDecode(raw, &n); err != nil {
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
		return n, nil
	case llm.TypeNumber:
		var f float64
		if err := mapstructure.WeakDecode(raw, &f); err != nil {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return f, nil
	case llm.TypeBoolean:
		var b bool
		if err := mapstructure.WeakDecode(raw, &b); err != nil {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return b, nil
	case llm.TypeArray:
		var a []any
		if err := mapstructure.WeakDecode(raw, &a); err != nil {
			return nil, fmt.Errorf("expected array, got %T", raw)
		}
		return a, nil
	case llm.TypeObject:
		var m map[string]any
		if err := mapstructure.WeakDecode(raw, &m); err != nil {
			return nil, fmt.Errorf("expected object, got %T", raw)
		}
		return m, nil
	default:
		return raw, nil
	}
}
