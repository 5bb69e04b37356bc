// Package prisma renders PRISMA 2020 and PRISMA-ScR flow diagrams from
// stage counts.
package prisma

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"litreview/internal/dedup"
	"litreview/internal/logging"
	"litreview/internal/screening"
)

// Kind selects the diagram template.
type Kind string

const (
	Kind2020 Kind = "2020"
	KindScR  Kind = "scr"
)

// ErrUnknownKind is returned for diagram kinds other than 2020 and scr.
var ErrUnknownKind = errors.New("unknown PRISMA kind")

// ParseKind accepts "2020" or "scr".
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Kind2020:
		return Kind2020, nil
	case KindScR:
		return KindScR, nil
	}
	return "", fmt.Errorf("%w: %q (valid: 2020, scr)", ErrUnknownKind, s)
}

// Counts is a set of stage counts that can be checked and drawn.
type Counts interface {
	Kind() Kind
	Check() []string
	Diagram() *Diagram
}

// Counts2020 are the stage counts of a PRISMA 2020 systematic review.
type Counts2020 struct {
	RecordsIdentifiedDatabases int            `json:"records_identified_databases"`
	RecordsIdentifiedOther     int            `json:"records_identified_other"`
	RecordsAfterDedup          int            `json:"records_after_dedup"`
	RecordsScreened            int            `json:"records_screened"`
	RecordsExcludedScreening   int            `json:"records_excluded_screening"`
	FullTextAssessed           int            `json:"full_text_assessed"`
	FullTextExcluded           int            `json:"full_text_excluded"`
	FullTextExclusionReasons   map[string]int `json:"full_text_exclusion_reasons"`
	StudiesIncluded            int            `json:"studies_included"`
	EffectSizesIncluded        int            `json:"effect_sizes_included"`

	// Older count files carry fixed reason keys instead of the map.
	NoEffectSize     int `json:"full_text_excluded_no_effect_size,omitempty"`
	NoLearningOutput int `json:"full_text_excluded_no_learning_outcome,omitempty"`
	WrongDesign      int `json:"full_text_excluded_wrong_design,omitempty"`
	OtherExcluded    int `json:"full_text_excluded_other,omitempty"`
}

// CountsScR are the stage counts of a PRISMA-ScR scoping review.
type CountsScR struct {
	RecordsDatabases         int            `json:"records_databases"`
	RecordsAPI               int            `json:"records_api"`
	RecordsOther             int            `json:"records_other"`
	RecordsAfterDedup        int            `json:"records_after_dedup"`
	RecordsScreened          int            `json:"records_screened"`
	RecordsExcludedScreening int            `json:"records_excluded_screening"`
	RecordsUncertain         int            `json:"records_uncertain"`
	FullTextSought           int            `json:"full_text_sought"`
	FullTextNotRetrieved     int            `json:"full_text_not_retrieved"`
	FullTextAssessed         int            `json:"full_text_assessed"`
	FullTextExcluded         int            `json:"full_text_excluded"`
	FullTextExclusionReasons map[string]int `json:"full_text_exclusion_reasons"`
	SourcesIncluded          int            `json:"sources_included"`
	IncludedEmpirical        int            `json:"included_empirical"`
	IncludedConceptual       int            `json:"included_conceptual"`
	IncludedReviews          int            `json:"included_reviews"`
}

func (c *Counts2020) Kind() Kind { return Kind2020 }
func (c *CountsScR) Kind() Kind  { return KindScR }

// reasons returns the exclusion reasons, folding in the legacy keys.
func (c *Counts2020) reasons() map[string]int {
	if len(c.FullTextExclusionReasons) > 0 {
		return c.FullTextExclusionReasons
	}
	legacy := map[string]int{
		"No extractable effect size": c.NoEffectSize,
		"No learning outcome":        c.NoLearningOutput,
		"Wrong design":               c.WrongDesign,
		"Other":                      c.OtherExcluded,
	}
	out := make(map[string]int)
	for k, v := range legacy {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// LoadCounts reads a counts JSON file of the given kind. Missing keys are zero.
func LoadCounts(path string, kind Kind) (Counts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read counts: %w", err)
	}
	var c Counts
	switch kind {
	case Kind2020:
		c = &Counts2020{}
	case KindScR:
		c = &CountsScR{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse counts %s: %w", path, err)
	}
	return c, nil
}

// WriteCounts writes c as indented JSON.
func WriteCounts(path string, c Counts) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write counts: %w", err)
	}
	return nil
}

// FromReports pre-fills the counts a dedup report and screening summary
// already know. Either may be nil.
func FromReports(rep *dedup.Report, sum *screening.Summary, kind Kind) (Counts, error) {
	switch kind {
	case Kind2020:
		c := &Counts2020{FullTextExclusionReasons: map[string]int{}}
		if rep != nil {
			c.RecordsIdentifiedDatabases = rep.TotalOriginal
			c.RecordsAfterDedup = rep.FinalUniqueRecords
		}
		if sum != nil {
			c.RecordsScreened = sum.TotalScreened
			c.RecordsExcludedScreening = sum.Exclude
		}
		return c, nil
	case KindScR:
		c := &CountsScR{FullTextExclusionReasons: map[string]int{}}
		if rep != nil {
			c.RecordsDatabases = rep.TotalOriginal
			c.RecordsAfterDedup = rep.FinalUniqueRecords
		}
		if sum != nil {
			c.RecordsScreened = sum.TotalScreened
			c.RecordsExcludedScreening = sum.Exclude
			c.RecordsUncertain = sum.Uncertain
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Check returns consistency warnings. They never block rendering.
func (c *Counts2020) Check() []string {
	var w []string
	identified := c.RecordsIdentifiedDatabases + c.RecordsIdentifiedOther
	w = checkCommon(w, identified, c.RecordsAfterDedup, c.RecordsScreened, c.RecordsExcludedScreening,
		c.FullTextAssessed, c.FullTextExcluded, c.reasons())
	if want := c.FullTextAssessed - c.FullTextExcluded; c.StudiesIncluded != want {
		w = append(w, fmt.Sprintf("studies_included (%d) != full_text_assessed - full_text_excluded (%d)", c.StudiesIncluded, want))
	}
	logWarnings(w)
	return w
}

// Check returns consistency warnings. They never block rendering.
func (c *CountsScR) Check() []string {
	var w []string
	identified := c.RecordsDatabases + c.RecordsAPI + c.RecordsOther
	w = checkCommon(w, identified, c.RecordsAfterDedup, c.RecordsScreened, c.RecordsExcludedScreening,
		c.FullTextAssessed, c.FullTextExcluded, c.FullTextExclusionReasons)
	if c.FullTextNotRetrieved > c.FullTextSought {
		w = append(w, fmt.Sprintf("full_text_not_retrieved (%d) > full_text_sought (%d)", c.FullTextNotRetrieved, c.FullTextSought))
	}
	if want := c.FullTextAssessed - c.FullTextExcluded; c.SourcesIncluded != want {
		w = append(w, fmt.Sprintf("sources_included (%d) != full_text_assessed - full_text_excluded (%d)", c.SourcesIncluded, want))
	}
	logWarnings(w)
	return w
}

func checkCommon(w []string, identified, afterDedup, screened, excluded, assessed, ftExcluded int, reasons map[string]int) []string {
	if identified-afterDedup < 0 {
		w = append(w, fmt.Sprintf("records_after_dedup (%d) exceeds records identified (%d)", afterDedup, identified))
	}
	if screened > afterDedup {
		w = append(w, fmt.Sprintf("records_screened (%d) > records_after_dedup (%d)", screened, afterDedup))
	}
	if excluded > screened {
		w = append(w, fmt.Sprintf("records_excluded_screening (%d) > records_screened (%d)", excluded, screened))
	}
	if ftExcluded > assessed {
		w = append(w, fmt.Sprintf("full_text_excluded (%d) > full_text_assessed (%d)", ftExcluded, assessed))
	}
	if len(reasons) > 0 {
		sum := 0
		for _, n := range reasons {
			sum += n
		}
		if sum != ftExcluded {
			w = append(w, fmt.Sprintf("exclusion reasons sum to %d, full_text_excluded is %d", sum, ftExcluded))
		}
	}
	return w
}

func logWarnings(w []string) {
	for _, msg := range w {
		logging.PrismaWarn("%s", msg)
	}
}

// sortedReasons orders reasons by count descending, then name.
func sortedReasons(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
