package observers

import (
	"log/slog"
	"sync"

	"github.com/fightiq/octagon/pkg/metrics"
)

// LatencyObserver collects the per-phase durations of an agent run and
// logs a single latency line when the run reaches a terminal state.
type LatencyObserver struct {
	mu   sync.Mutex
	runs map[string]*runTimings
	log  *slog.Logger
}

type runTimings struct {
	selectSec   float64
	toolSec     float64
	finalizeSec float64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		runs: make(map[string]*runTimings),
		log:  log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	runID := ""
	if ev.Tags != nil {
		runID = ev.Tags["run_id"]
	}
	if runID == "" {
		return
	}
	o.mu.Lock()
	t := o.runs[runID]
	if t == nil {
		t = &runTimings{}
		o.runs[runID] = t
	}
	switch ev.Name {
	case metrics.EventToolSelect:
		t.selectSec = ev.Value
	case metrics.EventToolExec:
		t.toolSec = ev.Value
	case metrics.EventFinalize:
		t.finalizeSec = ev.Value
	case metrics.EventRunDone:
		status := ""
		if ev.Tags != nil {
			status = ev.Tags["status"]
		}
		o.log.Info("latency",
			"run_id", runID,
			"status", status,
			"select_ms", toMs(t.selectSec),
			"tool_ms", toMs(t.toolSec),
			"finalize_ms", toMs(t.finalizeSec),
			"total_ms", toMs(ev.Value),
		)
		delete(o.runs, runID)
	}
	o.mu.Unlock()
}

func toMs(sec float64) int64 {
	return int64(sec * 1000)
}
