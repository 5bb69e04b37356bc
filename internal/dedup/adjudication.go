package dedup

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"litreview/internal/logging"
)

// Verdict is a reviewer's call on a candidate pair.
type Verdict string

const (
	VerdictDuplicate Verdict = "duplicate"
	VerdictDistinct  Verdict = "distinct"
	VerdictSkip      Verdict = "skip"
)

// ErrStaleAdjudication is returned when a decision names a pair the current
// run did not produce, usually because the exports changed since review.
var ErrStaleAdjudication = errors.New("adjudication does not match a borderline pair")

// Decision records the verdict for the pair (A, B), keyed by the study IDs
// assigned before adjudication.
type Decision struct {
	A       string  `json:"study_a"`
	B       string  `json:"study_b"`
	Verdict Verdict `json:"verdict"`
}

// Pair is one row of borderline_pairs.csv, as shown to a reviewer.
type Pair struct {
	StudyA, StudyB     string
	Similarity         float64
	TitleA, TitleB     string
	AuthorsA, AuthorsB string
	YearA, YearB       string
	DOIA, DOIB         string
	SourceA, SourceB   string
	AbstractA          string
	AbstractB          string
}

// ReadPairs loads a borderline_pairs.csv written by WriteOutputs.
func ReadPairs(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{"study_a", "study_b"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, col)
		}
	}

	get := func(row []string, col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var pairs []Pair
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return pairs, fmt.Errorf("read %s: %w", path, err)
		}
		sim, _ := strconv.ParseFloat(get(row, "similarity"), 64)
		pairs = append(pairs, Pair{
			StudyA:     get(row, "study_a"),
			StudyB:     get(row, "study_b"),
			Similarity: sim,
			TitleA:     get(row, "title_a"),
			TitleB:     get(row, "title_b"),
			AuthorsA:   get(row, "authors_a"),
			AuthorsB:   get(row, "authors_b"),
			YearA:      get(row, "year_a"),
			YearB:      get(row, "year_b"),
			DOIA:       get(row, "doi_a"),
			DOIB:       get(row, "doi_b"),
			SourceA:    get(row, "source_a"),
			SourceB:    get(row, "source_b"),
			AbstractA:  get(row, "abstract_a"),
			AbstractB:  get(row, "abstract_b"),
		})
	}
}

// ReadDecisions loads an adjudications.json file.
func ReadDecisions(path string) ([]Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read adjudications: %w", err)
	}
	var decisions []Decision
	if err := json.Unmarshal(data, &decisions); err != nil {
		return nil, fmt.Errorf("failed to parse adjudications: %w", err)
	}
	for i, d := range decisions {
		switch d.Verdict {
		case VerdictDuplicate, VerdictDistinct, VerdictSkip:
		default:
			return nil, fmt.Errorf("adjudication %d (%s/%s): unknown verdict %q", i, d.A, d.B, d.Verdict)
		}
	}
	return decisions, nil
}

// WriteDecisions writes decisions as indented JSON.
func WriteDecisions(path string, decisions []Decision) error {
	if decisions == nil {
		decisions = []Decision{}
	}
	data, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyAdjudications drops the later record of each pair decided duplicate,
// then reassigns study IDs and refreshes the report. Skipped pairs remain
// candidates. Decisions are validated before any is applied.
func (r *Result) ApplyAdjudications(decisions []Decision) error {
	type key struct{ a, b string }
	byIDs := make(map[key]int, len(r.Candidates))
	for k, p := range r.Candidates {
		byIDs[key{p.StudyA, p.StudyB}] = k
	}

	for _, d := range decisions {
		if _, ok := byIDs[key{d.A, d.B}]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrStaleAdjudication, d.A, d.B)
		}
	}

	audit := logging.Audit()
	decided := make(map[int]bool, len(decisions))
	applied := 0
	for _, d := range decisions {
		k := byIDs[key{d.A, d.B}]
		audit.Adjudication(d.A, d.B, string(d.Verdict))
		if d.Verdict != VerdictSkip {
			decided[k] = true
		}
		if d.Verdict != VerdictDuplicate {
			continue
		}
		p := r.Candidates[k]
		// Either side may already be gone through another pair; chains
		// collapse onto the earliest surviving record.
		a, b := r.root(p.A), r.root(p.B)
		if a == b {
			continue
		}
		if b < a {
			a, b = b, a
		}
		r.Flags[b] = FlagAdjudicated
		r.DuplicateOf[b] = a
		applied++
	}

	// Decided pairs and pairs touching a removed record are resolved.
	kept := r.Candidates[:0]
	for k, p := range r.Candidates {
		if !decided[k] && r.Flags[p.A] == FlagNone && r.Flags[p.B] == FlagNone {
			kept = append(kept, p)
		}
	}
	r.Candidates = kept

	runID := r.Report.RunID
	r.rebuild()
	r.Report.RunID = runID
	logging.Dedup("Applied %d adjudicated duplicates; %d pairs remain", applied, len(r.Candidates))
	return nil
}

// root follows DuplicateOf from i to the record that was kept.
func (r *Result) root(i int) int {
	for r.Flags[i] != FlagNone && r.DuplicateOf[i] >= 0 {
		i = r.DuplicateOf[i]
	}
	return i
}
