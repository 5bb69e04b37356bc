// Package usage accounts LLM tokens and estimated cost across pipeline runs.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"litreview/internal/logging"
)

type contextKey struct{}

type runKey struct{}

// autoSaveDelay debounces writes after a burst of calls.
const autoSaveDelay = 5 * time.Second

// Tracker aggregates token usage and persists it as JSON.
type Tracker struct {
	mu            sync.Mutex
	data          UsageData
	filePath      string
	dirty         bool
	autoSaveTimer *time.Timer
	now           func() time.Time
}

// NewTracker opens the usage file under <workspace>/.litrev.
func NewTracker(workspacePath string) (*Tracker, error) {
	dir := filepath.Join(workspacePath, ".litrev")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .litrev dir: %w", err)
	}
	return NewTrackerAt(filepath.Join(dir, "usage.json"))
}

// NewTrackerAt opens the usage file at path, loading any existing totals.
// A corrupt file is logged and replaced on the next save.
func NewTrackerAt(path string) (*Tracker, error) {
	t := &Tracker{
		filePath: path,
		data:     emptyData(),
		now:      time.Now,
	}
	if err := t.Load(); err != nil {
		logging.UsageWarn("Ignoring unreadable usage file %s: %v", path, err)
		t.data = emptyData()
	}
	return t, nil
}

func emptyData() UsageData {
	return UsageData{
		Version: "1.0",
		Aggregate: AggregatedStats{
			ByProvider:  make(map[string]TokenCounts),
			ByModel:     make(map[string]TokenCounts),
			ByOperation: make(map[string]TokenCounts),
			ByRun:       make(map[string]TokenCounts),
		},
	}
}

// Path returns the persistence path.
func (t *Tracker) Path() string { return t.filePath }

// Load reads the usage data from disk. A missing file is not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	loaded := emptyData()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	agg := &loaded.Aggregate
	for _, m := range []*map[string]TokenCounts{&agg.ByProvider, &agg.ByModel, &agg.ByOperation, &agg.ByRun} {
		if *m == nil {
			*m = make(map[string]TokenCounts)
		}
	}
	t.data = loaded
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	t.data.Updated = t.now().UTC()
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.filePath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Close stops any pending autosave and flushes to disk.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoSaveTimer != nil {
		t.autoSaveTimer.Stop()
		t.autoSaveTimer = nil
	}
	if !t.dirty {
		return nil
	}
	return t.saveLocked()
}

// Track records one LLM call. The run ID comes from WithRun on ctx.
func (t *Tracker) Track(ctx context.Context, model, provider string, input, output int, operation string) {
	cost := Cost(model, input, output)

	t.mu.Lock()
	defer t.mu.Unlock()

	run := RunFromContext(ctx)
	if run == "" {
		run = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}

	t.data.Aggregate.TotalProject.Add(input, output, cost)
	addToMap(t.data.Aggregate.ByProvider, provider, input, output, cost)
	addToMap(t.data.Aggregate.ByModel, model, input, output, cost)
	addToMap(t.data.Aggregate.ByOperation, operation, input, output, cost)
	addToMap(t.data.Aggregate.ByRun, run, input, output, cost)

	if !t.dirty {
		t.dirty = true
		t.autoSaveTimer = time.AfterFunc(autoSaveDelay, func() {
			if err := t.Save(); err != nil {
				logging.UsageWarn("Autosave failed: %v", err)
			}
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.ByRun = copyTokenCountsMap(stats.ByRun)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int, cost decimal.Decimal) {
	entry := m[key]
	entry.Add(input, output, cost)
	m[key] = entry
}

// NewContext returns a context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tracker from the context, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(contextKey{}).(*Tracker)
	return t
}

// WithRun tags usage recorded under ctx with a run ID.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunFromContext returns the run ID set by WithRun, or "".
func RunFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runKey{}).(string)
	return s
}
