// Package codebook defines the effect-size coding sheet: one row per effect
// size, keyed by study_id and es_id, with enumerated categorical columns
// and missing-value sentinels.
package codebook

import "strings"

// Kind is the value type of a column.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumeric Kind = "numeric"
	KindEnum    Kind = "enum"
	KindBool    Kind = "bool"
)

// Column describes one sheet column.
type Column struct {
	Name     string
	Kind     Kind
	Enum     []string
	Required bool
	Doc      string
}

// Key columns.
const (
	ColStudyID = "study_id"
	ColESID    = "es_id"
)

// Missing-value sentinels, valid in any non-key column.
const (
	SentinelNotApplicable = "NA"
	SentinelNotReported   = "999"
	SentinelUnclear       = "998"
	SentinelOther         = "997"
)

// Sentinels maps each sentinel to its meaning, in documentation order.
var Sentinels = []struct{ Value, Meaning string }{
	{SentinelNotApplicable, "not applicable"},
	{SentinelNotReported, "not reported"},
	{SentinelUnclear, "unclear"},
	{SentinelOther, "other/see notes"},
}

// IsSentinel reports whether v is a missing-value code.
func IsSentinel(v string) bool {
	switch strings.TrimSpace(v) {
	case SentinelNotApplicable, SentinelNotReported, SentinelUnclear, SentinelOther:
		return true
	}
	return false
}

// Enumerations.
var (
	DesignTypes = []string{"randomized_controlled_trial", "quasi_experimental", "pre_post", "other"}

	EducationLevels = []string{"k12", "higher_education", "workplace_training",
		"professional_education", "continuing_education", "mixed"}

	OutcomeTypes = []string{"cognitive", "skill_based", "affective", "performance",
		"learning_outcome", "achievement", "test_score", "knowledge", "skill",
		"competency", "grade", "satisfaction", "engagement", "other"}

	DataFormats = []string{"between_subjects_MSD", "within_subjects_prepost",
		"cohens_d", "hedges_g", "t_statistic", "F_statistic", "other"}

	OversightLevels = []string{"fully_autonomous", "ai_led_checkpoints", "human_led_ai_support"}
	Architectures   = []string{"single_agent", "multi_agent"}
	AgencyLevels    = []string{"adaptive", "proactive", "co_learner", "peer"}
	Roles           = []string{"tutor", "coach", "assessor", "collaborator", "facilitator"}
	Modalities      = []string{"text_only", "voice", "embodied_avatar", "mixed"}
	Technologies    = []string{"rule_based", "ML", "NLP", "LLM", "reinforcement_learning"}
	Adaptivities    = []string{"static", "adaptive_performance", "adaptive_behavior_affect"}
	Confidences     = []string{"high", "moderate", "low"}
)

// Schema is the effect-size sheet layout, in column order.
var Schema = []Column{
	{Name: ColStudyID, Kind: KindString, Required: true, Doc: "study identifier (STUDY_0001)"},
	{Name: ColESID, Kind: KindString, Required: true, Doc: "effect size identifier, unique across the sheet"},
	{Name: "outcome_label", Kind: KindString, Required: true, Doc: "outcome measure as reported"},
	{Name: "outcome_type", Kind: KindEnum, Enum: OutcomeTypes, Required: true},
	{Name: "data_format", Kind: KindEnum, Enum: DataFormats, Required: true},

	{Name: "m_treatment", Kind: KindNumeric, Doc: "treatment group mean"},
	{Name: "sd_treatment", Kind: KindNumeric, Doc: "treatment group SD"},
	{Name: "n_treatment", Kind: KindInteger, Doc: "treatment group n"},
	{Name: "m_control", Kind: KindNumeric, Doc: "control group mean"},
	{Name: "sd_control", Kind: KindNumeric, Doc: "control group SD"},
	{Name: "n_control", Kind: KindInteger, Doc: "control group n"},

	{Name: "m_pre", Kind: KindNumeric, Doc: "pre-test mean"},
	{Name: "sd_pre", Kind: KindNumeric, Doc: "pre-test SD"},
	{Name: "m_post", Kind: KindNumeric, Doc: "post-test mean"},
	{Name: "sd_post", Kind: KindNumeric, Doc: "post-test SD"},
	{Name: "n_prepost", Kind: KindInteger, Doc: "pre-post sample size"},

	{Name: "cohens_d", Kind: KindNumeric, Doc: "reported Cohen's d"},
	{Name: "hedges_g", Kind: KindNumeric, Doc: "reported or computed Hedges' g"},
	{Name: "se_g", Kind: KindNumeric, Doc: "standard error of g"},
	{Name: "t_statistic", Kind: KindNumeric},
	{Name: "f_statistic", Kind: KindNumeric},
	{Name: "p_value", Kind: KindNumeric},

	{Name: "design_type", Kind: KindEnum, Enum: DesignTypes, Required: true},
	{Name: "education_level", Kind: KindEnum, Enum: EducationLevels},
	{Name: "oversight_level", Kind: KindEnum, Enum: OversightLevels},
	{Name: "architecture", Kind: KindEnum, Enum: Architectures},
	{Name: "agency_level", Kind: KindEnum, Enum: AgencyLevels},
	{Name: "role", Kind: KindEnum, Enum: Roles},
	{Name: "modality", Kind: KindEnum, Enum: Modalities},
	{Name: "technology", Kind: KindEnum, Enum: Technologies},
	{Name: "adaptivity", Kind: KindEnum, Enum: Adaptivities},

	{Name: "source_table_page", Kind: KindString, Doc: "where in the paper the numbers came from"},
	{Name: "confidence", Kind: KindEnum, Enum: Confidences, Doc: "coder confidence"},
	{Name: "notes", Kind: KindString},
}

var schemaIndex = func() map[string]*Column {
	m := make(map[string]*Column, len(Schema))
	for i := range Schema {
		m[Schema[i].Name] = &Schema[i]
	}
	return m
}()

// Lookup returns the column definition for name.
func Lookup(name string) (*Column, bool) {
	c, ok := schemaIndex[name]
	return c, ok
}

// ColumnNames returns the schema column names in order.
func ColumnNames() []string {
	names := make([]string, len(Schema))
	for i, c := range Schema {
		names[i] = c.Name
	}
	return names
}

// InEnum reports whether v is one of the column's enumerated values.
func (c *Column) InEnum(v string) bool {
	for _, e := range c.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// NormalizeDesignType maps a design label to the design enumeration using
// a fixed alias table. It reports false for anything not in the table.
func NormalizeDesignType(s string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, d := range DesignTypes {
		if v == d {
			return d, true
		}
	}
	v = strings.Join(strings.FieldsFunc(v, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '(' || r == ')'
	}), " ")

	switch v {
	case "":
		return "", false
	case "rct", "randomized", "randomised", "random assignment",
		"randomized controlled trial", "randomised controlled trial", "experimental":
		return "randomized_controlled_trial", true
	case "quasi experimental", "quasi", "quasiexperimental", "non equivalent control group",
		"nonequivalent control group":
		return "quasi_experimental", true
	case "pretest posttest", "pre post", "one group pre post", "pre test post test",
		"single group pre post", "prepost":
		return "pre_post", true
	}
	return "", false
}
