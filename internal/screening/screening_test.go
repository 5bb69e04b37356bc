package screening

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"litreview/internal/bib"
	"litreview/internal/llm"
	"litreview/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stubClient answers by looking for a key in the user prompt.
type stubClient struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]error
	calls   []string
}

func (c *stubClient) Provider() string { return "stub" }
func (c *stubClient) Model() string    { return "stub-model" }

func (c *stubClient) Complete(ctx context.Context, system, user string) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, err := range c.fail {
		if strings.Contains(user, key) {
			c.calls = append(c.calls, key)
			return nil, err
		}
	}
	for key, text := range c.replies {
		if strings.Contains(user, key) {
			c.calls = append(c.calls, key)
			return &llm.Completion{Text: text, Model: "stub-model", InputTokens: 100, OutputTokens: 20}, nil
		}
	}
	return &llm.Completion{Text: "no idea", Model: "stub-model"}, nil
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func fixedClock() time.Time { return time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC) }

func TestParseFramework(t *testing.T) {
	f, err := ParseFramework(" PCC ")
	require.NoError(t, err)
	assert.Equal(t, PCC, f)

	_, err = ParseFramework("spider")
	assert.True(t, errors.Is(err, ErrUnknownFramework))
}

func TestUserMessage(t *testing.T) {
	msg := PCC.UserMessage(bib.Record{Authors: "Lee, K", Year: "2023"})
	assert.Equal(t, "TITLE: No title\n\nAUTHORS: Lee, K\nYEAR: 2023\n\nABSTRACT:\nNo abstract\n\nBased on the above, apply the PCC inclusion/exclusion criteria and return your decision as JSON.", msg)

	msg = PICOS.UserMessage(bib.Record{Title: "T", Abstract: "A"})
	assert.Contains(t, msg, "apply the inclusion/exclusion criteria")
}

func TestSystemPromptListsReasonCodes(t *testing.T) {
	assert.Contains(t, PCC.SystemPrompt(), "E1-no trust concept | E2-non-educational")
	assert.Contains(t, PICOS.SystemPrompt(), "M9-duplicate")
	assert.NotContains(t, PICOS.SystemPrompt(), "%!")
}

func TestParseResponse(t *testing.T) {
	bare := `{"decision": "exclude", "confidence": "High", "rationale": "No AI.", "population_met": true,
		"concept_met": "false", "context_met": null, "study_type_met": true,
		"primary_exclusion_reason": "E3-no AI", "priority_candidate": false, "calibration_mentioned": true}`

	tests := []struct {
		name       string
		text       string
		f          Framework
		decision   string
		confidence string
		code       string
		parseErr   bool
	}{
		{"bare", bare, PCC, Exclude, ConfidenceHigh, "E3", false},
		{"fenced", "Here you go:\n```json\n" + bare + "\n```\nThanks", PCC, Exclude, ConfidenceHigh, "E3", false},
		{"embedded", "Decision follows " + bare + " end.", PCC, Exclude, ConfidenceHigh, "E3", false},
		{"garbage", "I cannot decide.", PCC, Uncertain, ConfidenceLow, "", true},
		{"unknown label", `{"decision": "MAYBE", "confidence": "sure"}`, PICOS, Uncertain, ConfidenceLow, "", false},
		{"exclude without code", `{"decision": "EXCLUDE", "primary_exclusion_reason": "satisfaction only"}`, PICOS, Exclude, ConfidenceLow, ReasonOther, false},
		{"exclude with foreign code", `{"decision": "EXCLUDE", "primary_exclusion_reason": "E3-no AI"}`, PICOS, Exclude, ConfidenceLow, ReasonOther, false},
		{"picos code", `{"decision": "EXCLUDE", "confidence": "moderate", "primary_exclusion_reason": "M3-no learning outcome"}`, PICOS, Exclude, ConfidenceModerate, "M3", false},
		{"include null reason", `{"decision": "INCLUDE", "confidence": "high", "primary_exclusion_reason": null}`, PICOS, Include, ConfidenceHigh, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseResponse(tt.text, tt.f)
			assert.Equal(t, tt.decision, d.Decision)
			assert.Equal(t, tt.confidence, d.Confidence)
			assert.Equal(t, tt.code, d.ReasonCode)
			assert.Equal(t, tt.parseErr, d.ParseError)
		})
	}

	d := ParseResponse(bare, PCC)
	require.NotNil(t, d.ConceptMet)
	assert.False(t, *d.ConceptMet)
	assert.Nil(t, d.ContextMet)
	require.NotNil(t, d.PrimaryExclusionReason)
	assert.Equal(t, "E3-no AI", *d.PrimaryExclusionReason)
	require.NotNil(t, d.CalibrationMentioned)
	assert.True(t, *d.CalibrationMentioned)

	garbage := ParseResponse("nope", PICOS)
	assert.Equal(t, "Parse error in AI response", garbage.Rationale)
}

func records(n int) []bib.Record {
	out := make([]bib.Record, n)
	for i := range out {
		id := studyID(i + 1)
		out[i] = bib.Record{StudyID: id, Title: "Title " + id, Abstract: "Abstract " + id}
	}
	return out
}

func studyID(i int) string { return fmt.Sprintf("STUDY_%04d", i) }

func newTestScreener(c llm.Client, f Framework, st *store.Store) *Screener {
	s := NewScreener(c, f, st)
	s.now = fixedClock
	return s
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	client := &stubClient{
		replies: map[string]string{
			"STUDY_0001": `{"decision":"INCLUDE","confidence":"high","rationale":"ok","population_met":true}`,
			"STUDY_0002": "```json\n{\"decision\":\"EXCLUDE\",\"confidence\":\"high\",\"primary_exclusion_reason\":\"M7-not agentic AI\"}\n```",
			"STUDY_0003": `{"decision":"EXCLUDE","confidence":"low","primary_exclusion_reason":"M2-N<10"}`,
		},
		fail: map[string]error{"STUDY_0004": errors.New("boom")},
	}
	s := newTestScreener(client, PICOS, nil)

	res, err := s.Run(context.Background(), records(5), Options{OutputDir: dir, Workers: 3, RequestsPerSecond: 1000, RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Screened)
	assert.Len(t, res.Decisions, 5)

	sum := res.Summary
	assert.Equal(t, 5, sum.TotalScreened)
	assert.Equal(t, sum.TotalScreened, sum.Include+sum.Exclude+sum.Uncertain)
	assert.Equal(t, 1, sum.Include)
	assert.Equal(t, 2, sum.Exclude)
	assert.Equal(t, 2, sum.Uncertain)
	assert.Equal(t, 2, sum.Failed)
	assert.InDelta(t, 0.2, sum.InclusionRate, 1e-9)
	assert.Equal(t, map[string]int{"M7": 1, "M2": 1}, sum.ReasonCodes)
	assert.Nil(t, sum.PriorityCandidates)

	var failed Decision
	for _, d := range res.Decisions {
		if d.StudyID == "STUDY_0004" {
			failed = d
		}
	}
	assert.True(t, failed.Error)
	assert.Equal(t, "Screening error: boom", failed.Rationale)
	assert.Equal(t, "2025-04-02T09:30:00Z", failed.ScreenedAt)
	assert.Equal(t, "stub-model", failed.Model)

	data, err := os.ReadFile(filepath.Join(dir, CSVFile))
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	if diff := cmp.Diff(PICOS.Columns(), rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(rows); i++ {
		assert.Equal(t, studyID(i), rows[i][0], "csv sorted by study_id")
	}
	assert.Equal(t, "true", rows[1][5])

	onDisk, err := ReadSummary(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	if diff := cmp.Diff(sum, *onDisk); diff != "" {
		t.Errorf("summary on disk differs (-want +got):\n%s", diff)
	}
}

func TestRunResumeSkipsCompleted(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "litrev.db"))
	require.NoError(t, err)
	defer st.Close()

	first := &stubClient{
		replies: map[string]string{"STUDY_": `{"decision":"INCLUDE","confidence":"high"}`},
		fail:    map[string]error{"STUDY_0003": errors.New("503")},
	}
	_, err = newTestScreener(first, PCC, st).Run(context.Background(), records(4), Options{OutputDir: dir, Limit: 3, RequestsPerSecond: 1000})
	require.NoError(t, err)
	assert.Equal(t, 3, first.callCount())

	second := &stubClient{replies: map[string]string{"STUDY_": `{"decision":"EXCLUDE","primary_exclusion_reason":"E2-non-educational"}`}}
	res, err := newTestScreener(second, PCC, st).Run(context.Background(), records(4), Options{OutputDir: dir, Resume: true, RequestsPerSecond: 1000})
	require.NoError(t, err)

	// STUDY_0003 failed before and STUDY_0004 was never screened.
	assert.Equal(t, 2, second.callCount())
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Screened)
	require.Len(t, res.Decisions, 4)
	assert.Equal(t, 2, res.Summary.Include)
	assert.Equal(t, 2, res.Summary.Exclude)
	require.NotNil(t, res.Summary.PriorityCandidates)
	assert.Zero(t, *res.Summary.PriorityCandidates)

	stored, err := st.Decisions(context.Background(), "pcc")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, "E2", stored[2].ReasonCode)
	assert.False(t, stored[2].Failed)

	runs, err := st.ListRuns(context.Background(), "screen")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, store.StatusCompleted, r.Status)
	}
}

func TestRunResumeIntoNewDirUsesStore(t *testing.T) {
	ws := t.TempDir()
	st, err := store.Open(filepath.Join(ws, "litrev.db"))
	require.NoError(t, err)
	defer st.Close()

	first := &stubClient{replies: map[string]string{"STUDY_": `{"decision":"INCLUDE","confidence":"high"}`}}
	_, err = newTestScreener(first, PCC, st).Run(context.Background(), records(3), Options{OutputDir: filepath.Join(ws, "a"), RequestsPerSecond: 1000})
	require.NoError(t, err)

	second := &stubClient{replies: map[string]string{"STUDY_": `{"decision":"EXCLUDE"}`}}
	outB := filepath.Join(ws, "b")
	res, err := newTestScreener(second, PCC, st).Run(context.Background(), records(3), Options{OutputDir: outB, Resume: true, RequestsPerSecond: 1000})
	require.NoError(t, err)

	assert.Zero(t, second.callCount())
	assert.Equal(t, 3, res.Skipped)
	require.Len(t, res.Decisions, 3)
	assert.Equal(t, 3, res.Summary.TotalScreened)
	assert.Equal(t, 3, res.Summary.Include)

	onDisk, err := ReadDecisions(filepath.Join(outB, DecisionsFile))
	require.NoError(t, err)
	require.Len(t, onDisk, 3)
	assert.Equal(t, "STUDY_0001", onDisk[0].StudyID)
	assert.Equal(t, "INCLUDE", onDisk[0].Decision)
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubClient{replies: map[string]string{"STUDY_": `{"decision":"INCLUDE"}`}}
	res, err := newTestScreener(client, PICOS, nil).Run(ctx, records(10), Options{OutputDir: dir, RequestsPerSecond: 1000})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, client.callCount())
	assert.Zero(t, res.Summary.TotalScreened)
	assert.FileExists(t, filepath.Join(dir, SummaryFile))
}

func TestReadDecisionsLastWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), DecisionsFile)
	content := `{"study_id":"S1","decision":"UNCERTAIN","error":true}
{"study_id":"S2","decision":"INCLUDE"}
{"study_id":"S1","decision":"EXCLUDE"}
{"study_id":"S3","deci`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := ReadDecisions(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].StudyID)
	assert.Equal(t, Exclude, got[0].Decision)
	assert.False(t, got[0].Error)

	missing, err := ReadDecisions(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSample(t *testing.T) {
	assert.Equal(t, 0, SampleSize(0, 0.2))
	assert.Equal(t, 1, SampleSize(2, 0.2))
	assert.Equal(t, 3, SampleSize(13, 0.2))
	assert.Equal(t, 4, SampleSize(4, 1.5))

	var decisions []Decision
	for i := 20; i >= 1; i-- {
		decisions = append(decisions, Decision{StudyID: studyID(i), Decision: Include})
	}
	a := Sample(decisions, DefaultSampleRate, DefaultSampleSeed)
	b := Sample(decisions, DefaultSampleRate, DefaultSampleSeed)
	require.Len(t, a, 4)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("sample not reproducible:\n%s", diff)
	}
	for i := 1; i < len(a); i++ {
		assert.Less(t, a[i-1].StudyID, a[i].StudyID)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSampleCSV(&buf, a))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, "study_id,title,ai_decision,ai_confidence,ai_reason_code,human_decision,human_reason_code,notes", lines[0])
}
