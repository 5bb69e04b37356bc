package adjudicate

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	tea "github.com/charmbracelet/bubbletea"

	"litreview/internal/dedup"
)

func testPairs() []dedup.Pair {
	return []dedup.Pair{
		{StudyA: "STUDY_0001", StudyB: "STUDY_0002", Similarity: 0.81, TitleA: "AI tutors in algebra", TitleB: "AI tutors in Algebra", YearA: "2023", YearB: "2023"},
		{StudyA: "STUDY_0003", StudyB: "STUDY_0007", Similarity: 0.74, TitleA: "Chatbots and writing", TitleB: "Chatbot feedback on writing"},
		{StudyA: "STUDY_0004", StudyB: "STUDY_0009", Similarity: 0.72, TitleA: "Adaptive quizzes", TitleB: "Adaptive quizzing"},
	}
}

func press(m Model, r rune) (Model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	return next.(Model), cmd
}

func TestReviewAllPairs(t *testing.T) {
	m := New(testPairs(), nil)
	if m.Done() || m.Cursor() != 0 {
		t.Fatalf("fresh model: done=%v cursor=%d", m.Done(), m.Cursor())
	}

	m, _ = press(m, 'd')
	m, _ = press(m, 'k')
	if m.Cursor() != 2 {
		t.Errorf("expected cursor 2, got %d", m.Cursor())
	}
	m, cmd := press(m, 's')
	if !m.Done() {
		t.Fatal("expected done after last pair")
	}
	if cmd == nil {
		t.Error("expected quit command after last pair")
	}

	got := m.Decisions()
	want := []dedup.Verdict{dedup.VerdictDuplicate, dedup.VerdictDistinct, dedup.VerdictSkip}
	if len(got) != len(want) {
		t.Fatalf("expected %d decisions, got %d", len(want), len(got))
	}
	for i, d := range got {
		if d.Verdict != want[i] {
			t.Errorf("decision %d: expected %s, got %s", i, want[i], d.Verdict)
		}
	}
	if got[1].A != "STUDY_0003" || got[1].B != "STUDY_0007" {
		t.Errorf("decision keyed to wrong pair: %+v", got[1])
	}
}

func TestBackRevisesVerdict(t *testing.T) {
	m := New(testPairs(), nil)
	m, _ = press(m, 'd')
	m, _ = press(m, 'b')
	if m.Cursor() != 0 {
		t.Fatalf("expected cursor 0 after back, got %d", m.Cursor())
	}
	m, _ = press(m, 'k')

	got := m.Decisions()
	if len(got) != 1 || got[0].Verdict != dedup.VerdictDistinct {
		t.Errorf("expected revised verdict distinct, got %+v", got)
	}

	m, _ = press(m, 'b')
	m, _ = press(m, 'b')
	if m.Cursor() != 0 {
		t.Errorf("back should stop at the first pair, got %d", m.Cursor())
	}
}

func TestQuitKeepsPartialDecisions(t *testing.T) {
	m := New(testPairs(), nil)
	m, _ = press(m, 'd')
	m, cmd := press(m, 'q')
	if !m.Quit() || m.Done() {
		t.Errorf("expected quit without done, got quit=%v done=%v", m.Quit(), m.Done())
	}
	if cmd == nil {
		t.Error("expected quit command")
	}
	if len(m.Decisions()) != 1 {
		t.Errorf("expected 1 decision, got %d", len(m.Decisions()))
	}
}

func TestPriorDecisionsResume(t *testing.T) {
	prior := []dedup.Decision{
		{A: "STUDY_0001", B: "STUDY_0002", Verdict: dedup.VerdictDuplicate},
		{A: "STUDY_0098", B: "STUDY_0099", Verdict: dedup.VerdictDistinct},
	}
	m := New(testPairs(), prior)
	if m.Cursor() != 1 {
		t.Errorf("expected cursor at first undecided pair, got %d", m.Cursor())
	}
	if n := len(m.Decisions()); n != 1 {
		t.Errorf("stale prior verdicts should be dropped, got %d decisions", n)
	}

	all := append(prior,
		dedup.Decision{A: "STUDY_0003", B: "STUDY_0007", Verdict: dedup.VerdictSkip},
		dedup.Decision{A: "STUDY_0004", B: "STUDY_0009", Verdict: dedup.VerdictSkip},
	)
	m = New(testPairs(), all)
	if !m.Done() {
		t.Error("expected done when every pair has a prior verdict")
	}
}

func TestIgnoresUnboundKeys(t *testing.T) {
	m := New(testPairs(), nil)
	m, _ = press(m, 'x')
	if m.Cursor() != 0 || len(m.Decisions()) != 0 {
		t.Errorf("unbound key changed state: cursor=%d decisions=%d", m.Cursor(), len(m.Decisions()))
	}
}

func TestHelpToggle(t *testing.T) {
	m := New(testPairs(), nil)
	m, _ = press(m, '?')
	if !m.help.ShowAll {
		t.Error("expected full help after ?")
	}
	m, _ = press(m, '?')
	if m.help.ShowAll {
		t.Error("expected short help after second ?")
	}
}

func TestViewShowsBothRecords(t *testing.T) {
	m := New(testPairs(), nil).WithStyles(NewStyles(LightTheme()))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := next.(Model).View()

	for _, want := range []string{"Pair 1 of 3", "STUDY_0001", "STUDY_0002", "AI tutors in algebra", "duplicate"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	empty := New(nil, nil)
	if !empty.Done() {
		t.Error("model with no pairs should be done")
	}
	if !strings.Contains(empty.View(), "No borderline pairs") {
		t.Error("expected empty-state message")
	}
}

func writePairsCSV(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"study_a", "study_b", "similarity", "title_a", "title_b"})
	for _, p := range testPairs()[:2] {
		w.Write([]string{p.StudyA, p.StudyB, "0.8", p.TitleA, p.TitleB})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatal(err)
	}
}

func TestReviewFile(t *testing.T) {
	dir := t.TempDir()
	pairsPath := filepath.Join(dir, "borderline_pairs.csv")
	outPath := filepath.Join(dir, "adjudications.json")
	writePairsCSV(t, pairsPath)

	res, err := ReviewFile(context.Background(), pairsPath, outPath,
		tea.WithInput(iotest.OneByteReader(strings.NewReader("dk"))),
		tea.WithOutput(io.Discard),
		tea.WithoutRenderer(),
	)
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if !res.Complete || res.Reviewed != 2 {
		t.Errorf("expected complete review of 2 pairs, got %+v", res)
	}

	saved, err := dedup.ReadDecisions(outPath)
	if err != nil {
		t.Fatalf("ReadDecisions: %v", err)
	}
	if len(saved) != 2 || saved[0].Verdict != dedup.VerdictDuplicate || saved[1].Verdict != dedup.VerdictDistinct {
		t.Errorf("unexpected saved decisions: %+v", saved)
	}
}
