package screening

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Summary is the content of screening_summary.json.
type Summary struct {
	Framework            string         `json:"framework"`
	TotalScreened        int            `json:"total_screened"`
	Include              int            `json:"include"`
	Exclude              int            `json:"exclude"`
	Uncertain            int            `json:"uncertain"`
	InclusionRate        float64        `json:"inclusion_rate"`
	ReasonCodes          map[string]int `json:"reason_codes"`
	Failed               int            `json:"failed"`
	PriorityCandidates   *int           `json:"priority_candidates,omitempty"`
	CalibrationMentioned *int           `json:"calibration_mentioned,omitempty"`
}

// Summarize tallies decisions.
func Summarize(decisions []Decision, f Framework) Summary {
	s := Summary{
		Framework:     string(f),
		TotalScreened: len(decisions),
		ReasonCodes:   make(map[string]int),
	}
	var priority, calibration int
	for i := range decisions {
		d := &decisions[i]
		switch d.Decision {
		case Include:
			s.Include++
		case Exclude:
			s.Exclude++
			if d.ReasonCode != "" {
				s.ReasonCodes[d.ReasonCode]++
			}
		default:
			s.Uncertain++
		}
		if d.Failed() {
			s.Failed++
		}
		if d.PriorityCandidate != nil && *d.PriorityCandidate {
			priority++
		}
		if d.CalibrationMentioned != nil && *d.CalibrationMentioned {
			calibration++
		}
	}
	if s.TotalScreened > 0 {
		s.InclusionRate = math.Round(float64(s.Include)/float64(s.TotalScreened)*1000) / 1000
	}
	if f == PCC {
		s.PriorityCandidates = &priority
		s.CalibrationMentioned = &calibration
	}
	return s
}

// WriteSummary writes s as indented JSON.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// ReadSummary loads a screening_summary.json file.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return &s, nil
}

// WriteCSV writes decisions sorted by study ID using the framework's columns.
func WriteCSV(w io.Writer, decisions []Decision, f Framework) error {
	sorted := make([]Decision, len(decisions))
	copy(sorted, decisions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StudyID < sorted[j].StudyID })

	cols := f.Columns()
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for i := range sorted {
		for c, name := range cols {
			row[c] = sorted[i].column(name)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (d *Decision) column(name string) string {
	switch name {
	case "study_id":
		return d.StudyID
	case "title":
		return d.Title
	case "decision":
		return d.Decision
	case "confidence":
		return d.Confidence
	case "rationale":
		return d.Rationale
	case "population_met":
		return boolCell(d.PopulationMet)
	case "intervention_met":
		return boolCell(d.InterventionMet)
	case "outcome_met":
		return boolCell(d.OutcomeMet)
	case "design_met":
		return boolCell(d.DesignMet)
	case "statistics_met":
		return boolCell(d.StatisticsMet)
	case "concept_met":
		return boolCell(d.ConceptMet)
	case "context_met":
		return boolCell(d.ContextMet)
	case "study_type_met":
		return boolCell(d.StudyTypeMet)
	case "primary_exclusion_reason":
		if d.PrimaryExclusionReason == nil {
			return ""
		}
		return *d.PrimaryExclusionReason
	case "reason_code":
		return d.ReasonCode
	case "priority_candidate":
		return boolCell(d.PriorityCandidate)
	case "calibration_mentioned":
		return boolCell(d.CalibrationMentioned)
	case "screened_at":
		return d.ScreenedAt
	}
	return ""
}

func boolCell(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

// WriteOutputs writes the CSV export and summary next to the JSONL file.
func WriteOutputs(dir string, decisions []Decision, f Framework) error {
	out, err := os.Create(filepath.Join(dir, CSVFile))
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := WriteCSV(out, decisions, f); err != nil {
		out.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return WriteSummary(filepath.Join(dir, SummaryFile), Summarize(decisions, f))
}
