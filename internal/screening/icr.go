package screening

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"litreview/internal/logging"
)

// ICRReportFile is the default name of the reliability report.
const ICRReportFile = "icr_report.json"

// DefaultKappaTarget is the Cohen's kappa a verification sample must reach.
const DefaultKappaTarget = 0.80

// ErrNoCodedRows is returned when no row of a sheet has a human decision.
var ErrNoCodedRows = errors.New("no human decisions in sheet")

// ICRRow is one completed row of the verification sheet.
type ICRRow struct {
	Line            int
	StudyID         string
	AIDecision      string
	AIReasonCode    string
	HumanDecision   string
	HumanReasonCode string
}

// Agreement compares the two coders on one field.
type Agreement struct {
	Field            string  `json:"field"`
	Pairs            int     `json:"pairs"`
	Agreed           int     `json:"agreed"`
	PercentAgreement float64 `json:"percent_agreement"`
	Kappa            float64 `json:"kappa"`
	Passed           bool    `json:"passed"`
}

// Disagreement is a study the coders decided differently.
type Disagreement struct {
	StudyID string `json:"study_id"`
	AI      string `json:"ai_decision"`
	Human   string `json:"human_decision"`
}

// ICRReport summarizes agreement between the AI screener and a human.
type ICRReport struct {
	Rows          int            `json:"rows"`
	Coded         int            `json:"coded"`
	Pending       int            `json:"pending"`
	KappaTarget   float64        `json:"kappa_target"`
	Decision      Agreement      `json:"decision"`
	ReasonCode    *Agreement     `json:"reason_code,omitempty"`
	Passed        bool           `json:"passed"`
	Disagreements []Disagreement `json:"disagreements"`
}

// CohensKappa returns Cohen's kappa for two raters over the same items.
// When chance agreement is total the raters used one category and kappa is 1.
func CohensKappa(a, b []string) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("rater lists differ in length: %d vs %d", len(a), len(b))
	}
	n := len(a)
	if n == 0 {
		return 0, errors.New("no ratings")
	}
	countA := make(map[string]int)
	countB := make(map[string]int)
	agreed := 0
	for i := range a {
		countA[a[i]]++
		countB[b[i]]++
		if a[i] == b[i] {
			agreed++
		}
	}
	observed := float64(agreed) / float64(n)
	expected := 0.0
	for cat, ca := range countA {
		expected += float64(ca) / float64(n) * float64(countB[cat]) / float64(n)
	}
	if expected >= 1 {
		return 1, nil
	}
	return (observed - expected) / (1 - expected), nil
}

// ReadICRSheet reads a verification sheet written by WriteSampleCSV after the
// second coder has filled in human_decision. Rows without one are returned
// with an empty HumanDecision.
func ReadICRSheet(r io.Reader) ([]ICRRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"study_id", "ai_decision", "human_decision"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	get := func(row []string, col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var rows []ICRRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("line %d: %w", line, err)
		}
		row := ICRRow{
			Line:            line,
			StudyID:         get(rec, "study_id"),
			AIDecision:      strings.ToUpper(get(rec, "ai_decision")),
			AIReasonCode:    reasonPrefix(get(rec, "ai_reason_code")),
			HumanReasonCode: reasonPrefix(get(rec, "human_reason_code")),
		}
		if h := get(rec, "human_decision"); h != "" {
			d, ok := normalizeHumanDecision(h)
			if !ok {
				return rows, fmt.Errorf("line %d: human_decision %q is not INCLUDE, EXCLUDE or UNCERTAIN", line, h)
			}
			row.HumanDecision = d
		}
		rows = append(rows, row)
	}
}

// ReadICRSheetFile opens path and reads it with ReadICRSheet.
func ReadICRSheetFile(path string) ([]ICRRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadICRSheet(f)
	if err != nil {
		return rows, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func normalizeHumanDecision(s string) (string, bool) {
	switch strings.ToUpper(s) {
	case "INCLUDE", "I":
		return "INCLUDE", true
	case "EXCLUDE", "E":
		return "EXCLUDE", true
	case "UNCERTAIN", "U", "MAYBE":
		return "UNCERTAIN", true
	}
	return "", false
}

// reasonPrefix reduces "E2-non-educational" to "E2".
func reasonPrefix(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "- :"); i > 0 {
		s = s[:i]
	}
	return s
}

// Reliability scores the coded rows of a verification sheet. Reason codes
// are compared only where both coders excluded and gave a code.
func Reliability(rows []ICRRow, target float64) (*ICRReport, error) {
	if target <= 0 {
		target = DefaultKappaTarget
	}
	rep := &ICRReport{Rows: len(rows), KappaTarget: target, Disagreements: []Disagreement{}}

	var ai, human, aiReason, humanReason []string
	for _, r := range rows {
		if r.HumanDecision == "" {
			rep.Pending++
			continue
		}
		ai = append(ai, r.AIDecision)
		human = append(human, r.HumanDecision)
		if r.AIDecision != r.HumanDecision {
			rep.Disagreements = append(rep.Disagreements, Disagreement{StudyID: r.StudyID, AI: r.AIDecision, Human: r.HumanDecision})
		}
		if r.AIDecision == "EXCLUDE" && r.HumanDecision == "EXCLUDE" && r.AIReasonCode != "" && r.HumanReasonCode != "" {
			aiReason = append(aiReason, r.AIReasonCode)
			humanReason = append(humanReason, r.HumanReasonCode)
		}
	}
	rep.Coded = len(ai)
	if rep.Coded == 0 {
		return rep, ErrNoCodedRows
	}

	var err error
	if rep.Decision, err = agreement("decision", ai, human, target); err != nil {
		return rep, err
	}
	rep.Passed = rep.Decision.Passed
	if len(aiReason) > 0 {
		a, err := agreement("reason_code", aiReason, humanReason, target)
		if err != nil {
			return rep, err
		}
		rep.ReasonCode = &a
	}
	sort.Slice(rep.Disagreements, func(i, j int) bool { return rep.Disagreements[i].StudyID < rep.Disagreements[j].StudyID })

	logging.Audit().ICRReliability(rep.Coded, rep.Decision.Kappa, target, rep.Passed)
	logging.Screen("ICR reliability: %d coded, kappa=%.3f (target %.2f) agreement=%.3f",
		rep.Coded, rep.Decision.Kappa, target, rep.Decision.PercentAgreement)
	return rep, nil
}

func agreement(field string, a, b []string, target float64) (Agreement, error) {
	k, err := CohensKappa(a, b)
	if err != nil {
		return Agreement{}, err
	}
	agreed := 0
	for i := range a {
		if a[i] == b[i] {
			agreed++
		}
	}
	return Agreement{
		Field:            field,
		Pairs:            len(a),
		Agreed:           agreed,
		PercentAgreement: round3(float64(agreed) / float64(len(a))),
		Kappa:            round3(k),
		Passed:           k >= target,
	}, nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// WriteICRReport writes rep as indented JSON.
func WriteICRReport(path string, rep *ICRReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
