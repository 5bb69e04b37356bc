// Package qa runs the quality gates over a coded effect-size sheet before
// it goes to analysis. Gates only inspect values already in the sheet.
package qa

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"litreview/internal/codebook"
	"litreview/internal/logging"
)

// Gate names, in run order.
const (
	GatePlausibility = "plausibility"
	GateSampleSize   = "sample_size"
	GateDesign       = "design_validity"
	GateOutcomeType  = "outcome_type"
	GateCompleteness = "completeness"
	GateDuplicates   = "duplicates"
)

// Gates lists the gate names in run order.
var Gates = []string{GatePlausibility, GateSampleSize, GateDesign, GateOutcomeType, GateCompleteness, GateDuplicates}

const (
	DefaultMaxEffectSize = 5.0
	DefaultMinSample     = 10
)

// Options sets the gate thresholds.
type Options struct {
	MaxEffectSize float64
	MinSample     int
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxEffectSize <= 0 {
		o.MaxEffectSize = DefaultMaxEffectSize
	}
	if o.MinSample <= 0 {
		o.MinSample = DefaultMinSample
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Flag is one failed check.
type Flag struct {
	ESID    string `json:"es_id"`
	StudyID string `json:"study_id"`
	Line    int    `json:"line"`
	Gate    string `json:"gate"`
	Message string `json:"message"`
}

// GateResult is the outcome of one gate.
type GateResult struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Flagged int    `json:"flagged"`
}

// Report is the QA result written to qa_report.json.
type Report struct {
	Timestamp     string       `json:"qa_timestamp"`
	AllPassed     bool         `json:"all_gates_passed"`
	Passed        []string     `json:"passed"`
	Failed        []string     `json:"failed"`
	Gates         []GateResult `json:"gate_results"`
	Flags         []Flag       `json:"flags"`
	Studies       int          `json:"n_studies"`
	EffectSizes   int          `json:"n_effect_sizes"`
	MaxEffectSize float64      `json:"max_effect_size"`
	MinSample     int          `json:"min_sample"`
}

type gateFunc func(rows []codebook.Row, o Options) []Flag

var gateFuncs = map[string]gateFunc{
	GatePlausibility: plausibility,
	GateSampleSize:   sampleSize,
	GateDesign:       designValidity,
	GateOutcomeType:  outcomeType,
	GateCompleteness: completeness,
	GateDuplicates:   duplicates,
}

// Run applies every gate in order.
func Run(rows []codebook.Row, opts Options) *Report {
	opts = opts.withDefaults()
	timer := logging.StartTimer(logging.CategoryQA, "Run")
	defer timer.Stop()

	audit := logging.Audit()
	rep := &Report{
		Timestamp:     opts.Now().UTC().Format(time.RFC3339),
		AllPassed:     true,
		Passed:        []string{},
		Failed:        []string{},
		Flags:         []Flag{},
		EffectSizes:   len(rows),
		MaxEffectSize: opts.MaxEffectSize,
		MinSample:     opts.MinSample,
	}
	studies := make(map[string]bool)
	for _, r := range rows {
		studies[r.StudyID()] = true
	}
	rep.Studies = len(studies)

	for _, gate := range Gates {
		flags := gateFuncs[gate](rows, opts)
		passed := len(flags) == 0
		rep.Gates = append(rep.Gates, GateResult{Gate: gate, Passed: passed, Flagged: len(flags)})
		if passed {
			rep.Passed = append(rep.Passed, gate)
		} else {
			rep.Failed = append(rep.Failed, gate)
			rep.AllPassed = false
		}
		for _, f := range flags {
			audit.QACheck(f.ESID, gate, false, f.Message)
		}
		audit.QACheck("", gate, passed, fmt.Sprintf("%d flagged", len(flags)))
		rep.Flags = append(rep.Flags, flags...)
		if passed {
			logging.QA("Gate %s: PASSED", gate)
		} else {
			logging.QAWarn("Gate %s: FAILED (%d flagged)", gate, len(flags))
		}
	}
	return rep
}

// WriteReport writes rep as indented JSON.
func WriteReport(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write qa report: %w", err)
	}
	return nil
}

func flag(r codebook.Row, gate, format string, args ...any) Flag {
	return Flag{ESID: r.ESID(), StudyID: r.StudyID(), Line: r.Line, Gate: gate, Message: fmt.Sprintf(format, args...)}
}

// effectSize prefers hedges_g and falls back to cohens_d.
func effectSize(r codebook.Row) (float64, string, bool) {
	if g, ok := r.Float("hedges_g"); ok {
		return g, "hedges_g", true
	}
	if d, ok := r.Float("cohens_d"); ok {
		return d, "cohens_d", true
	}
	return 0, "", false
}

func plausibility(rows []codebook.Row, o Options) []Flag {
	var out []Flag
	for _, r := range rows {
		if es, col, ok := effectSize(r); ok && math.Abs(es) > o.MaxEffectSize {
			out = append(out, flag(r, GatePlausibility, "|%s| = %.3f exceeds %.1f", col, math.Abs(es), o.MaxEffectSize))
		}
	}
	return out
}

func isPrePost(r codebook.Row) bool {
	if r.Get("data_format") == "within_subjects_prepost" {
		return true
	}
	d, _ := codebook.NormalizeDesignType(r.Get("design_type"))
	return d == "pre_post"
}

func sampleSize(rows []codebook.Row, o Options) []Flag {
	var out []Flag
	for _, r := range rows {
		if isPrePost(r) {
			if n, ok := r.Int("n_prepost"); ok && n < 2*o.MinSample {
				out = append(out, flag(r, GateSampleSize, "n_prepost=%d < %d", n, 2*o.MinSample))
			}
			continue
		}
		for _, col := range []string{"n_treatment", "n_control"} {
			if n, ok := r.Int(col); ok && n < o.MinSample {
				out = append(out, flag(r, GateSampleSize, "%s=%d < %d", col, n, o.MinSample))
			}
		}
	}
	return out
}

func designValidity(rows []codebook.Row, _ Options) []Flag {
	var out []Flag
	for _, r := range rows {
		v := r.Get("design_type")
		if !r.Present("design_type") {
			out = append(out, flag(r, GateDesign, "design_type missing"))
			continue
		}
		if d, ok := codebook.NormalizeDesignType(v); !ok || d == "other" {
			out = append(out, flag(r, GateDesign, "design_type %q is not an experimental, quasi-experimental or pre-post design", v))
		}
	}
	return out
}

func outcomeType(rows []codebook.Row, _ Options) []Flag {
	col, _ := codebook.Lookup("outcome_type")
	var out []Flag
	for _, r := range rows {
		v := r.Get("outcome_type")
		switch {
		case !r.Present("outcome_type"):
			out = append(out, flag(r, GateOutcomeType, "outcome_type missing"))
		case !col.InEnum(v):
			out = append(out, flag(r, GateOutcomeType, "outcome_type %q not in the enumeration", v))
		}
	}
	return out
}

// requiredByFormat lists the statistics each data format needs.
var requiredByFormat = map[string][]string{
	"between_subjects_MSD":    {"m_treatment", "sd_treatment", "n_treatment", "m_control", "sd_control", "n_control"},
	"within_subjects_prepost": {"m_pre", "sd_pre", "m_post", "sd_post", "n_prepost"},
	"cohens_d":                {"cohens_d", "n_treatment", "n_control"},
	"hedges_g":                {"hedges_g", "se_g"},
	"t_statistic":             {"t_statistic", "n_treatment", "n_control"},
	"F_statistic":             {"f_statistic", "n_treatment", "n_control"},
}

func completeness(rows []codebook.Row, _ Options) []Flag {
	var out []Flag
	for _, r := range rows {
		format := r.Get("data_format")
		if !r.Present("data_format") {
			out = append(out, flag(r, GateCompleteness, "data_format missing"))
			continue
		}
		required, ok := requiredByFormat[format]
		if !ok {
			required = []string{"hedges_g"}
		}
		var missing []string
		for _, col := range required {
			if !r.Present(col) {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			out = append(out, flag(r, GateCompleteness, "%s row missing %v", format, missing))
		}
	}
	return out
}

func duplicates(rows []codebook.Row, _ Options) []Flag {
	var out []Flag
	esIDs := make(map[string]int)
	triples := make(map[[3]string]string)
	for _, r := range rows {
		if id := r.ESID(); id != "" {
			if first, dup := esIDs[id]; dup {
				out = append(out, flag(r, GateDuplicates, "es_id repeated (first on line %d)", first))
			} else {
				esIDs[id] = r.Line
			}
		}
		if !r.Present("hedges_g") || r.Get("outcome_label") == "" {
			continue
		}
		key := [3]string{r.StudyID(), r.Get("outcome_label"), r.Get("hedges_g")}
		if first, dup := triples[key]; dup {
			out = append(out, flag(r, GateDuplicates, "same study, outcome and g as %s", first))
		} else {
			triples[key] = r.ESID()
		}
	}
	return out
}
