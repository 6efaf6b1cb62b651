package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fightiq/octagon/pkg/metrics"
)

type CostSummary struct {
	RunID            string `json:"run_id"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	RecordedAtUTC    string `json:"recorded_at_utc"`
}

// CostObserver accumulates token usage per run and writes one summary
// file per run into dir on Close. An empty dir disables it.
type CostObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*CostSummary
}

func NewCostObserver(dir string) *CostObserver {
	return &CostObserver{dir: dir, stats: make(map[string]*CostSummary)}
}

func (o *CostObserver) RecordEvent(ev metrics.MetricsEvent) {
	if strings.TrimSpace(o.dir) == "" {
		return
	}
	if ev.Name != metrics.EventLLMTokens || ev.Tags == nil {
		return
	}
	runID := ev.Tags["run_id"]
	if runID == "" {
		return
	}
	o.mu.Lock()
	stat := o.stats[runID]
	if stat == nil {
		stat = &CostSummary{RunID: runID}
		o.stats[runID] = stat
	}
	stat.TotalTokens += int(ev.Value)
	stat.PromptTokens += intField(ev.Fields, "prompt_tokens")
	stat.CompletionTokens += intField(ev.Fields, "completion_tokens")
	o.mu.Unlock()
}

func (o *CostObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".cost.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch v := fields[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

var _ metrics.Observer = (*CostObserver)(nil)
