package screening

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Decision labels.
const (
	Include   = "INCLUDE"
	Exclude   = "EXCLUDE"
	Uncertain = "UNCERTAIN"
)

// Confidence levels.
const (
	ConfidenceHigh     = "high"
	ConfidenceModerate = "moderate"
	ConfidenceLow      = "low"
)

const parseErrorRationale = "Parse error in AI response"

// Tokens is the usage of the call that produced a decision.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Decision is one screening result, as written to screening_decisions.jsonl.
type Decision struct {
	StudyID    string `json:"study_id"`
	Title      string `json:"title"`
	Decision   string `json:"decision"`
	Confidence string `json:"confidence"`
	Rationale  string `json:"rationale"`

	PopulationMet   *bool `json:"population_met"`
	InterventionMet *bool `json:"intervention_met,omitempty"`
	OutcomeMet      *bool `json:"outcome_met,omitempty"`
	DesignMet       *bool `json:"design_met,omitempty"`
	StatisticsMet   *bool `json:"statistics_met,omitempty"`
	ConceptMet      *bool `json:"concept_met,omitempty"`
	ContextMet      *bool `json:"context_met,omitempty"`
	StudyTypeMet    *bool `json:"study_type_met,omitempty"`

	PrimaryExclusionReason *string `json:"primary_exclusion_reason"`
	ReasonCode             string  `json:"reason_code,omitempty"`

	PriorityCandidate    *bool `json:"priority_candidate,omitempty"`
	CalibrationMentioned *bool `json:"calibration_mentioned,omitempty"`

	ScreenedAt string `json:"screened_at"`
	Model      string `json:"model,omitempty"`
	Tokens     Tokens `json:"tokens"`
	ParseError bool   `json:"parse_error,omitempty"`
	Error      bool   `json:"error,omitempty"`
}

// Failed reports whether the decision came from an error rather than a
// model judgment.
func (d *Decision) Failed() bool { return d.Error || d.ParseError }

// flexBool accepts true/false, null and their common string spellings.
type flexBool struct{ v *bool }

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		t := true
		f.v = &t
	case "false", "no", "0":
		t := false
		f.v = &t
	default:
		f.v = nil
	}
	return nil
}

// rawDecision is the model's JSON before normalization.
type rawDecision struct {
	Decision               string          `json:"decision"`
	Confidence             string          `json:"confidence"`
	Rationale              string          `json:"rationale"`
	PopulationMet          flexBool        `json:"population_met"`
	InterventionMet        flexBool        `json:"intervention_met"`
	OutcomeMet             flexBool        `json:"outcome_met"`
	DesignMet              flexBool        `json:"design_met"`
	StatisticsMet          flexBool        `json:"statistics_met"`
	ConceptMet             flexBool        `json:"concept_met"`
	ContextMet             flexBool        `json:"context_met"`
	StudyTypeMet           flexBool        `json:"study_type_met"`
	PrimaryExclusionReason json.RawMessage `json:"primary_exclusion_reason"`
	PriorityCandidate      flexBool        `json:"priority_candidate"`
	CalibrationMentioned   flexBool        `json:"calibration_mentioned"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseResponse turns model output into a decision. It tries the raw text,
// then a fenced code block, then the outermost brace span. Output that
// cannot be parsed yields an UNCERTAIN decision with ParseError set.
func ParseResponse(text string, f Framework) Decision {
	raw, ok := decodeRaw(text)
	if !ok {
		return Decision{
			Decision:   Uncertain,
			Confidence: ConfidenceLow,
			Rationale:  parseErrorRationale,
			ParseError: true,
		}
	}
	return raw.normalize(f)
}

func decodeRaw(text string) (*rawDecision, bool) {
	text = strings.TrimSpace(text)
	candidates := []string{text}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		candidates = append(candidates, text[i:j+1])
	}

	for _, c := range candidates {
		var r rawDecision
		if err := json.Unmarshal([]byte(c), &r); err == nil {
			return &r, true
		}
	}
	return nil, false
}

func (r *rawDecision) normalize(f Framework) Decision {
	d := Decision{
		Decision:        strings.ToUpper(strings.TrimSpace(r.Decision)),
		Confidence:      strings.ToLower(strings.TrimSpace(r.Confidence)),
		Rationale:       strings.TrimSpace(r.Rationale),
		PopulationMet:   r.PopulationMet.v,
		InterventionMet: r.InterventionMet.v,
		OutcomeMet:      r.OutcomeMet.v,
		DesignMet:       r.DesignMet.v,
		StatisticsMet:   r.StatisticsMet.v,
		ConceptMet:      r.ConceptMet.v,
		ContextMet:      r.ContextMet.v,
		StudyTypeMet:    r.StudyTypeMet.v,
	}
	switch d.Decision {
	case Include, Exclude, Uncertain:
	default:
		d.Decision = Uncertain
	}
	switch d.Confidence {
	case ConfidenceHigh, ConfidenceModerate, ConfidenceLow:
	default:
		d.Confidence = ConfidenceLow
	}

	if f == PCC {
		d.PriorityCandidate = boolOrFalse(r.PriorityCandidate.v)
		d.CalibrationMentioned = boolOrFalse(r.CalibrationMentioned.v)
	}

	var reason string
	if len(r.PrimaryExclusionReason) > 0 && json.Unmarshal(r.PrimaryExclusionReason, &reason) == nil {
		if reason = strings.TrimSpace(reason); reason != "" && !strings.EqualFold(reason, "null") {
			d.PrimaryExclusionReason = &reason
		}
	}
	if d.Decision == Exclude {
		d.ReasonCode = reasonCode(reason, f)
	}
	return d
}

func boolOrFalse(v *bool) *bool {
	if v != nil {
		return v
	}
	f := false
	return &f
}

var leadingCode = regexp.MustCompile(`^\s*([A-Za-z]\d)\b`)

// reasonCode extracts the leading taxonomy code, or OTHER.
func reasonCode(reason string, f Framework) string {
	m := leadingCode.FindStringSubmatch(reason)
	if m == nil {
		return ReasonOther
	}
	code := strings.ToUpper(m[1])
	for _, rc := range f.Reasons() {
		if rc.Code == code {
			return code
		}
	}
	return ReasonOther
}
