package codebook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sheet = `study_id,es_id,outcome_label,outcome_type,data_format,m_treatment,sd_treatment,n_treatment,m_control,sd_control,n_control,hedges_g,design_type,technology,confidence,notes
STUDY_0001,ES_001,Post-test score,test_score,between_subjects_MSD,78.2,10.1,32,70.4,11.0,30,0.72,randomized_controlled_trial,LLM,high,
STUDY_0001,ES_002,Retention,knowledge,between_subjects_MSD,999,NA,32,NA,NA,30,998,randomized_controlled_trial,LLM,moderate,"table 3, p. 12"

STUDY_0002,ES_003,Essay,writing,hedges_g,,,forty,,,,big,RCT,GPT,,
,ES_003,Quiz,grade,cohens_d,,,,,,,0.3,pre_post,NLP,low,
`

func readSample(t *testing.T) []Row {
	t.Helper()
	rows, err := ReadSheet(strings.NewReader(sheet))
	require.NoError(t, err)
	return rows
}

func TestReadSheet(t *testing.T) {
	rows := readSample(t)
	require.Len(t, rows, 4)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 5, rows[2].Line, "blank line is skipped but counted")
	assert.Equal(t, "table 3, p. 12", rows[1].Get("notes"))

	g, ok := rows[0].Float("hedges_g")
	assert.True(t, ok)
	assert.InDelta(t, 0.72, g, 1e-9)
	_, ok = rows[1].Float("hedges_g")
	assert.False(t, ok, "sentinel is not a value")
	n, ok := rows[0].Int("n_treatment")
	assert.True(t, ok)
	assert.Equal(t, 32, n)

	_, err := ReadSheet(strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrEmptySheet))
}

func TestValidate(t *testing.T) {
	issues := Validate(readSample(t))

	type key struct {
		row  int
		col  string
		code string
	}
	got := make(map[key]bool)
	for _, is := range issues {
		got[key{is.Row, is.Column, is.Code}] = true
	}

	for _, want := range []key{
		{5, "outcome_type", IssueBadEnum},
		{5, "n_treatment", IssueBadInteger},
		{5, "hedges_g", IssueBadNumeric},
		{5, "design_type", IssueBadEnum},
		{5, "technology", IssueBadEnum},
		{6, ColStudyID, IssueMissingKey},
		{6, ColESID, IssueDuplicateESID},
	} {
		assert.True(t, got[want], "missing issue %+v", want)
	}
	for _, is := range issues {
		assert.NotEqual(t, 2, is.Row, "clean row flagged: %v", is)
		assert.NotEqual(t, 3, is.Row, "sentinel row flagged: %v", is)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	rows := []Row{{Line: 2, Values: map[string]string{"study_id": "S1", "es_id": "E1"}}}
	issues := Validate(rows)
	var cols []string
	for _, is := range issues {
		assert.Equal(t, IssueMissingRequired, is.Code)
		cols = append(cols, is.Column)
	}
	assert.ElementsMatch(t, []string{"outcome_label", "outcome_type", "data_format", "design_type"}, cols)
}

func TestNormalizeDesignType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"RCT", "randomized_controlled_trial", true},
		{"Randomized", "randomized_controlled_trial", true},
		{"random assignment", "randomized_controlled_trial", true},
		{"quasi-experimental", "quasi_experimental", true},
		{"Quasi Experimental", "quasi_experimental", true},
		{"non-equivalent control group", "quasi_experimental", true},
		{"pretest_posttest", "pre_post", true},
		{"pre-post", "pre_post", true},
		{"Pretest-Posttest", "pre_post", true},
		{"one group pre post", "pre_post", true},
		{"pre_post", "pre_post", true},
		{"other", "other", true},
		{"case study", "", false},
		{"non-randomized comparison group", "", false},
		{"correlational", "", false},
		{"correlational study predicting post-course grades", "", false},
		{"qualitative interviews", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDesignType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestWriteTemplate(t *testing.T) {
	var sheetBuf, codesBuf bytes.Buffer
	require.NoError(t, WriteTemplate(&sheetBuf, &codesBuf))

	header, err := csv.NewReader(&sheetBuf).ReadAll()
	require.NoError(t, err)
	require.Len(t, header, 1)
	assert.Equal(t, ColumnNames(), header[0])

	codes, err := csv.NewReader(&codesBuf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"column", "value", "meaning"}, codes[0])

	documented := make(map[string]bool)
	for _, row := range codes[1:] {
		documented[row[0]+"="+row[1]] = true
	}
	for _, col := range Schema {
		assert.True(t, documented[col.Name+"="], col.Name)
		for _, v := range col.Enum {
			assert.True(t, documented[col.Name+"="+v], col.Name+"="+v)
		}
	}
	for _, s := range Sentinels {
		assert.True(t, documented["*="+s.Value])
	}

	dir := t.TempDir()
	require.NoError(t, WriteTemplateDir(dir))
	assert.FileExists(t, filepath.Join(dir, TemplateFile))
	assert.FileExists(t, filepath.Join(dir, CodesFile))
}

func TestExportParquet(t *testing.T) {
	rows := readSample(t)[:2]
	path := filepath.Join(t.TempDir(), "effect_sizes.parquet")
	require.NoError(t, ExportParquet(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))

	rec := parquetRow(rows[1])
	assert.Nil(t, rec["hedges_g"])
	assert.Nil(t, rec["m_treatment"])
	assert.Equal(t, 32, rec["n_treatment"])
	assert.Equal(t, "table 3, p. 12", rec["notes"])
}
