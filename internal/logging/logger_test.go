package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetLogging() {
	CloseAll()
	CloseAudit()
	logsDir = ""
	settings = Settings{}
}

func TestCategoriesWriteFilesInDebugMode(t *testing.T) {
	resetLogging()
	t.Cleanup(resetLogging)

	ws := t.TempDir()
	if err := Initialize(ws, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	categories := []Category{
		CategoryBoot, CategoryDedup, CategoryScreen, CategoryLLM, CategoryPrisma,
		CategoryCodebook, CategoryQA, CategoryStore, CategoryUsage, CategoryPublish,
	}
	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("category %s should be enabled", cat)
		}
		Get(cat).Info("hello from %s", cat)
	}
	Dedup("convenience dedup")
	ScreenDebug("convenience screen debug")

	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".litrev", "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	if len(entries) != len(categories) {
		t.Fatalf("expected %d log files, got %d", len(categories), len(entries))
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".log") {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

func TestProductionModeWritesNothing(t *testing.T) {
	resetLogging()
	t.Cleanup(resetLogging)

	ws := t.TempDir()
	if err := Initialize(ws, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Dedup("should not appear")
	CloseAll()

	if _, err := os.Stat(filepath.Join(ws, ".litrev", "logs")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no logs directory, stat err=%v", err)
	}
}

func TestCategoryFilter(t *testing.T) {
	resetLogging()
	t.Cleanup(resetLogging)

	if err := Initialize(t.TempDir(), Settings{
		DebugMode:  true,
		Categories: map[string]bool{"llm": false},
	}); err != nil {
		t.Fatal(err)
	}
	if IsCategoryEnabled(CategoryLLM) {
		t.Error("llm should be disabled")
	}
	if !IsCategoryEnabled(CategoryDedup) {
		t.Error("unlisted categories default to enabled")
	}
}

func TestJSONFormat(t *testing.T) {
	resetLogging()
	t.Cleanup(resetLogging)

	ws := t.TempDir()
	if err := Initialize(ws, Settings{DebugMode: true, JSONFormat: true, Level: "info"}); err != nil {
		t.Fatal(err)
	}
	QA("gate %d", 3)
	CloseAll()

	matches, _ := filepath.Glob(filepath.Join(ws, ".litrev", "logs", "*_qa.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one qa log, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"cat":"qa"`) || !strings.Contains(string(data), `"msg":"gate 3"`) {
		t.Fatalf("expected JSON entry, got %s", data)
	}
}

func TestInitializeRequiresWorkspace(t *testing.T) {
	if err := Initialize("", Settings{}); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}
