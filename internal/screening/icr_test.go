package screening

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohensKappa(t *testing.T) {
	// 50 items: 20 yes/yes, 15 no/no, 5 yes/no, 10 no/yes.
	var a, b []string
	add := func(n int, x, y string) {
		for i := 0; i < n; i++ {
			a = append(a, x)
			b = append(b, y)
		}
	}
	add(20, "Y", "Y")
	add(15, "N", "N")
	add(5, "Y", "N")
	add(10, "N", "Y")

	k, err := CohensKappa(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, k, 1e-9)

	k, err = CohensKappa([]string{"I", "I", "I"}, []string{"I", "I", "I"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, k)

	_, err = CohensKappa([]string{"I"}, []string{"I", "E"})
	assert.Error(t, err)
	_, err = CohensKappa(nil, nil)
	assert.Error(t, err)
}

func TestReadICRSheet(t *testing.T) {
	sheet := `study_id,title,ai_decision,ai_confidence,ai_reason_code,human_decision,human_reason_code,notes
STUDY_0001,A,include,high,,i,,
STUDY_0002,B,EXCLUDE,high,E2-non-educational,Exclude,e2: wrong setting,
STUDY_0003,C,UNCERTAIN,low,,,,
`
	rows, err := ReadICRSheet(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ICRRow{Line: 2, StudyID: "STUDY_0001", AIDecision: "INCLUDE", HumanDecision: "INCLUDE"}, rows[0])
	assert.Equal(t, "E2", rows[1].AIReasonCode)
	assert.Equal(t, "E2", rows[1].HumanReasonCode)
	assert.Equal(t, "EXCLUDE", rows[1].HumanDecision)
	assert.Empty(t, rows[2].HumanDecision)

	_, err = ReadICRSheet(strings.NewReader("study_id,ai_decision\nSTUDY_0001,INCLUDE\n"))
	assert.ErrorContains(t, err, "human_decision")

	_, err = ReadICRSheet(strings.NewReader("study_id,ai_decision,human_decision\nSTUDY_0001,INCLUDE,yes\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestReliability(t *testing.T) {
	rows := []ICRRow{
		{StudyID: "STUDY_0004", AIDecision: "INCLUDE", HumanDecision: "EXCLUDE", HumanReasonCode: "E3"},
		{StudyID: "STUDY_0001", AIDecision: "INCLUDE", HumanDecision: "INCLUDE"},
		{StudyID: "STUDY_0002", AIDecision: "EXCLUDE", AIReasonCode: "E2", HumanDecision: "EXCLUDE", HumanReasonCode: "E2"},
		{StudyID: "STUDY_0003", AIDecision: "EXCLUDE", AIReasonCode: "E1", HumanDecision: "EXCLUDE", HumanReasonCode: "E4"},
		{StudyID: "STUDY_0005", AIDecision: "EXCLUDE", AIReasonCode: "E1", HumanDecision: "EXCLUDE"},
		{StudyID: "STUDY_0006", AIDecision: "INCLUDE"},
	}
	rep, err := Reliability(rows, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Rows)
	assert.Equal(t, 5, rep.Coded)
	assert.Equal(t, 1, rep.Pending)
	assert.Equal(t, DefaultKappaTarget, rep.KappaTarget)
	assert.Equal(t, 4, rep.Decision.Agreed)
	assert.Equal(t, 0.8, rep.Decision.PercentAgreement)
	assert.False(t, rep.Passed)
	require.Len(t, rep.Disagreements, 1)
	assert.Equal(t, Disagreement{StudyID: "STUDY_0004", AI: "INCLUDE", Human: "EXCLUDE"}, rep.Disagreements[0])

	// Only 0002 and 0003 were excluded by both coders with a code.
	require.NotNil(t, rep.ReasonCode)
	assert.Equal(t, 2, rep.ReasonCode.Pairs)
	assert.Equal(t, 1, rep.ReasonCode.Agreed)

	path := filepath.Join(t.TempDir(), ICRReportFile)
	require.NoError(t, WriteICRReport(path, rep))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back ICRReport
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rep.Decision, back.Decision)
}

func TestReliabilityAllAgree(t *testing.T) {
	rows := []ICRRow{
		{StudyID: "STUDY_0001", AIDecision: "INCLUDE", HumanDecision: "INCLUDE"},
		{StudyID: "STUDY_0002", AIDecision: "EXCLUDE", HumanDecision: "EXCLUDE"},
	}
	rep, err := Reliability(rows, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rep.Decision.Kappa)
	assert.True(t, rep.Passed)
	assert.Nil(t, rep.ReasonCode)
	assert.Empty(t, rep.Disagreements)
}

func TestReliabilityNothingCoded(t *testing.T) {
	rep, err := Reliability([]ICRRow{{StudyID: "STUDY_0001", AIDecision: "INCLUDE"}}, 0)
	assert.True(t, errors.Is(err, ErrNoCodedRows))
	assert.Equal(t, 1, rep.Pending)
}
