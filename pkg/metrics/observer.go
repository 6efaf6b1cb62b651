package metrics

import "time"

// Well-known event names emitted by the agent.
const (
	EventToolSelect    = "tool_select"
	EventToolExec      = "tool_exec"
	EventFinalize      = "finalize"
	EventRunDone       = "run_done"
	EventLLMTokens     = "llm_tokens"
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
