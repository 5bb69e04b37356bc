package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tracker.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestCost(t *testing.T) {
	// 1000 in at $3/M + 500 out at $15/M = 0.003 + 0.0075
	got := Cost("claude-sonnet-4-5-20250929", 1000, 500)
	if !got.Equal(decimal.RequireFromString("0.0105")) {
		t.Fatalf("Cost=%s, want 0.0105", got)
	}
	if got := Cost("no-such-model", 1000, 1000); !got.IsZero() {
		t.Fatalf("unknown model cost=%s, want 0", got)
	}
}

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	tracker := newTestTracker(t)

	ctx := WithRun(context.Background(), "run_1")
	tracker.Track(ctx, "gpt-4o", "openai", 10, 5, "screen")
	tracker.Track(ctx, "gpt-4o", "openai", 2, 3, "screen")

	stats := tracker.Stats()
	if stats.TotalProject.Input != 12 || stats.TotalProject.Output != 8 || stats.TotalProject.Total != 20 {
		t.Fatalf("TotalProject=%+v, want input=12 output=8 total=20", stats.TotalProject)
	}
	if stats.TotalProject.Calls != 2 {
		t.Fatalf("Calls=%d, want 2", stats.TotalProject.Calls)
	}
	if got := stats.ByProvider["openai"]; got.Total != 20 {
		t.Fatalf("ByProvider[openai]=%+v, want total=20", got)
	}
	if got := stats.ByModel["gpt-4o"]; got.Total != 20 {
		t.Fatalf("ByModel[gpt-4o]=%+v, want total=20", got)
	}
	if got := stats.ByOperation["screen"]; got.Total != 20 {
		t.Fatalf("ByOperation[screen]=%+v, want total=20", got)
	}
	if got := stats.ByRun["run_1"]; got.Total != 20 {
		t.Fatalf("ByRun[run_1]=%+v, want total=20", got)
	}

	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(tracker.Path())
	if err != nil {
		t.Fatalf("read usage.json: %v", err)
	}
	var persisted UsageData
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal usage.json: %v", err)
	}
	if persisted.Aggregate.TotalProject.Total != 20 {
		t.Fatalf("persisted total=%d, want 20", persisted.Aggregate.TotalProject.Total)
	}

	reopened, err := NewTrackerAt(tracker.Path())
	if err != nil {
		t.Fatalf("NewTrackerAt: %v", err)
	}
	if got := reopened.Stats().ByModel["gpt-4o"].Calls; got != 2 {
		t.Fatalf("reloaded calls=%d, want 2", got)
	}
}

func TestTracker_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	tracker, err := NewTrackerAt(path)
	if err != nil {
		t.Fatalf("NewTrackerAt: %v", err)
	}
	if tracker.Stats().TotalProject.Total != 0 {
		t.Fatalf("expected empty stats")
	}
}

func TestSummaryAndExports(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	tracker.Track(ctx, "gpt-4o", "openai", 1_000_000, 0, "screen")
	tracker.Track(ctx, "claude-sonnet-4-5-20250929", "anthropic", 1000, 500, "screen")

	rows := tracker.Summary()
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want 3", len(rows))
	}
	if rows[0].Model != "claude-sonnet-4-5-20250929" || rows[1].Model != "gpt-4o" {
		t.Fatalf("rows not sorted by model: %s, %s", rows[0].Model, rows[1].Model)
	}
	total := rows[2]
	if total.Model != TotalKey || total.TotalCalls != 2 || total.InputTokens != 1_001_000 {
		t.Fatalf("total row=%+v", total)
	}
	if !total.TotalCost.Equal(decimal.RequireFromString("2.5105")) {
		t.Fatalf("total cost=%s, want 2.5105", total.TotalCost)
	}

	var csvBuf bytes.Buffer
	if err := tracker.WriteCSV(&csvBuf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "Model,") {
		t.Fatalf("unexpected csv:\n%s", csvBuf.String())
	}
	if lines[3] != "_TOTAL,1001000,500,1001500,2,2.5105" {
		t.Fatalf("total line=%q", lines[3])
	}

	var jsonBuf bytes.Buffer
	if err := tracker.WriteJSON(&jsonBuf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var exported struct {
		ExportTimestamp string                     `json:"export_timestamp"`
		UsageSummary    map[string]json.RawMessage `json:"usage_summary"`
	}
	if err := json.Unmarshal(jsonBuf.Bytes(), &exported); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if exported.ExportTimestamp != "2025-03-01T00:00:00Z" {
		t.Fatalf("timestamp=%q", exported.ExportTimestamp)
	}
	if _, ok := exported.UsageSummary[TotalKey]; !ok {
		t.Fatalf("missing %s in export", TotalKey)
	}
}

func TestTracker_ContextHelpers(t *testing.T) {
	tracker := newTestTracker(t)

	ctx := NewContext(context.Background(), tracker)
	if got := FromContext(ctx); got != tracker {
		t.Fatalf("FromContext mismatch")
	}
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected nil tracker on bare context")
	}
	if got := RunFromContext(WithRun(ctx, "r")); got != "r" {
		t.Fatalf("RunFromContext=%q", got)
	}
}
