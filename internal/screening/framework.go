// Package screening applies eligibility criteria to titles and abstracts
// with an LLM, recording one decision per study.
package screening

import (
	"errors"
	"fmt"
	"strings"

	"litreview/internal/bib"
)

// Framework selects the eligibility criteria.
type Framework string

const (
	// PICOS is used for the meta-analysis.
	PICOS Framework = "picos"
	// PCC is used for the scoping review.
	PCC Framework = "pcc"
)

// ErrUnknownFramework is returned by ParseFramework.
var ErrUnknownFramework = errors.New("unknown screening framework")

// ParseFramework accepts "picos" or "pcc" in any case.
func ParseFramework(s string) (Framework, error) {
	switch Framework(strings.ToLower(strings.TrimSpace(s))) {
	case PICOS:
		return PICOS, nil
	case PCC:
		return PCC, nil
	}
	return "", fmt.Errorf("%w: %q (valid: picos, pcc)", ErrUnknownFramework, s)
}

// ReasonCode is a fixed exclusion reason.
type ReasonCode struct {
	Code  string
	Label string
}

// ReasonOther is assigned to exclusions without a recognizable code.
const ReasonOther = "OTHER"

var pccReasons = []ReasonCode{
	{"E1", "no trust concept"},
	{"E2", "non-educational"},
	{"E3", "no AI"},
	{"E4", "not substantive"},
	{"E5", "non-English"},
	{"E6", "pre-2015"},
	{"E7", "duplicate"},
}

var picosReasons = []ReasonCode{
	{"M1", "no empirical evaluation"},
	{"M2", "N<10"},
	{"M3", "no learning outcome"},
	{"M4", "no comparison or baseline"},
	{"M5", "insufficient statistics"},
	{"M6", "non-educational"},
	{"M7", "not agentic AI"},
	{"M8", "non-English"},
	{"M9", "duplicate"},
}

// Reasons returns the exclusion taxonomy for f.
func (f Framework) Reasons() []ReasonCode {
	if f == PCC {
		return pccReasons
	}
	return picosReasons
}

func (f Framework) reasonList() string {
	parts := make([]string, 0, len(f.Reasons()))
	for _, r := range f.Reasons() {
		parts = append(parts, r.Code+"-"+r.Label)
	}
	return strings.Join(parts, " | ")
}

// Columns is the CSV export layout for f.
func (f Framework) Columns() []string {
	if f == PCC {
		return []string{
			"study_id", "title", "decision", "confidence", "rationale",
			"population_met", "concept_met", "context_met", "study_type_met",
			"primary_exclusion_reason", "reason_code", "priority_candidate",
			"calibration_mentioned", "screened_at",
		}
	}
	return []string{
		"study_id", "title", "decision", "confidence", "rationale",
		"population_met", "intervention_met", "outcome_met", "design_met",
		"statistics_met", "primary_exclusion_reason", "reason_code",
		"screened_at",
	}
}

// SystemPrompt returns the fixed screening instructions for f.
func (f Framework) SystemPrompt() string {
	if f == PCC {
		return fmt.Sprintf(pccPrompt, f.reasonList())
	}
	return fmt.Sprintf(picosPrompt, f.reasonList())
}

// UserMessage formats one record for screening.
func (f Framework) UserMessage(rec bib.Record) string {
	title := rec.Title
	if strings.TrimSpace(title) == "" {
		title = "No title"
	}
	abstract := rec.Abstract
	if strings.TrimSpace(abstract) == "" {
		abstract = "No abstract"
	}
	criteria := "the inclusion/exclusion criteria"
	if f == PCC {
		criteria = "the PCC inclusion/exclusion criteria"
	}
	return fmt.Sprintf("TITLE: %s\n\nAUTHORS: %s\nYEAR: %s\n\nABSTRACT:\n%s\n\nBased on the above, apply %s and return your decision as JSON.",
		title, rec.Authors, rec.Year, abstract, criteria)
}

const picosPrompt = `You are a systematic review expert screening studies for a meta-analysis on "Effects of Agentic AI on Learning Outcomes."

INCLUSION CRITERIA:
1. Population: Learners (K-12, higher ed, adult) in educational settings.
2. Intervention: An agentic AI system (ITS, conversational AI tutor, LLM tutor, autonomous coaching agent, multi-agent learning system) that exhibits autonomy, proactivity, adaptivity, or multi-step goal pursuit.
3. Outcome: Quantitative learning outcome (test scores, knowledge gain, skill acquisition). Satisfaction/attitude alone is INSUFFICIENT.
4. Design: Experimental (RCT), quasi-experimental (with control group), or pre-post (single group). Qualitative/survey only is EXCLUDED.
5. Statistics: Must report M, SD, n; or t/F statistics; or pre-computed d/g. No effect size data = EXCLUDED.
6. Language: English full text.

EXCLUSION CRITERIA:
- AI system paper without empirical evaluation
- N < 10 total
- No learning outcome (satisfaction only)
- No comparison or baseline (cannot compute effect size)
- Duplicate study

Respond with ONLY this JSON object:
{
  "decision": "<INCLUDE | EXCLUDE | UNCERTAIN>",
  "confidence": "<high | moderate | low>",
  "rationale": "<2-3 sentences explaining decision>",
  "population_met": <true | false>,
  "intervention_met": <true | false>,
  "outcome_met": <true | false>,
  "design_met": <true | false>,
  "statistics_met": <true | false>,
  "primary_exclusion_reason": "<if EXCLUDE: %s; else null>"
}`

const pccPrompt = `You are a systematic review expert screening studies for a scoping review on "Trust in AI in Educational Contexts."

This is a SCOPING REVIEW using PCC (Population, Concept, Context) criteria, NOT a meta-analysis.

PCC INCLUSION CRITERIA:
1. Population: Learners or educators in formal/informal educational settings (K-12, higher ed, adult education, professional development).
2. Concept: Explicitly discusses trust in AI or related constructs: trust, reliance, resistance, overtrust, distrust, calibration, over-reliance, under-reliance, appropriate reliance, trustworthiness, credibility (in AI context).
3. Context: AI-based educational tools (ITS, chatbot, generative AI, AI agents, conversational agents, AI writing assistants, AI-powered learning platforms).
4. Study type: Empirical studies, conceptual papers with explicit framework, systematic/scoping reviews. NOT opinion pieces or abstracts-only.
5. Language: English
6. Date: 2015-2026

EXCLUSION CRITERIA:
- Non-educational populations (patients, consumers, general public in non-education contexts)
- Trust in human teachers only (no AI involvement)
- AI studies without trust/reliance/resistance discussion
- Opinion/editorial pieces, conference abstracts without full text
- Non-English, pre-2015

PRIORITY CANDIDATES (flag as INCLUDE even if borderline):
- Studies citing Wang et al. (2025) on trust in generative AI in education
- Studies citing Lee & See (2004) on trust in automation
- Studies citing de Visser et al. (2020) on trust calibration
- Studies explicitly discussing "trust calibration" or "appropriate trust"

Respond with ONLY this JSON object:
{
  "decision": "<INCLUDE | EXCLUDE | UNCERTAIN>",
  "confidence": "<high | moderate | low>",
  "rationale": "<2-3 sentences explaining decision>",
  "population_met": <true | false | null>,
  "concept_met": <true | false | null>,
  "context_met": <true | false | null>,
  "study_type_met": <true | false | null>,
  "primary_exclusion_reason": "<if EXCLUDE: %s; else null>",
  "priority_candidate": <true | false>,
  "calibration_mentioned": <true | false>
}`
