package dedup

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"litreview/internal/bib"
	"litreview/internal/logging"
)

// Output file names.
const (
	MergedFile     = "merged_deduplicated.csv"
	ReportFile     = "dedup_report.json"
	BorderlineFile = "borderline_pairs.csv"
)

// Report summarizes a deduplication run for the PRISMA flow.
type Report struct {
	RunID                        string   `json:"run_id,omitempty"`
	Timestamp                    string   `json:"timestamp"`
	Sources                      []string `json:"sources"`
	TotalOriginal                int      `json:"total_original"`
	DOIDuplicatesRemoved         int      `json:"doi_duplicates_removed"`
	TitleDuplicatesRemoved       int      `json:"title_duplicates_removed"`
	AdjudicatedDuplicatesRemoved int      `json:"adjudicated_duplicates_removed"`
	TotalDuplicatesRemoved       int      `json:"total_duplicates_removed"`
	FinalUniqueRecords           int      `json:"final_unique_records"`
	DeduplicationRate            float64  `json:"deduplication_rate"`
	BorderlinePairs              int      `json:"borderline_pairs"`
}

// ReadReport loads a dedup_report.json.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dedup report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse dedup report %s: %w", path, err)
	}
	return &r, nil
}

// WriteOutputs writes the merged CSV, the JSON report and, when any exist,
// the borderline pairs into dir.
func (r *Result) WriteOutputs(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := bib.WriteFile(filepath.Join(dir, MergedFile), r.Unique); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r.Report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ReportFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write dedup report: %w", err)
	}

	pairsPath := filepath.Join(dir, BorderlineFile)
	if len(r.Candidates) == 0 {
		// A stale pairs file from an earlier run would no longer match.
		if err := os.Remove(pairsPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := r.writePairs(pairsPath); err != nil {
		return err
	}

	logging.Dedup("Wrote %d unique records to %s", len(r.Unique), dir)
	return nil
}

// pairColumns is the borderline_pairs.csv header.
var pairColumns = []string{
	"study_a", "study_b", "similarity",
	"title_a", "title_b", "authors_a", "authors_b",
	"year_a", "year_b", "doi_a", "doi_b",
	"source_a", "source_b", "abstract_a", "abstract_b",
}

func (r *Result) writePairs(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(pairColumns); err != nil {
		f.Close()
		return err
	}
	for _, p := range r.Candidates {
		a, b := r.Records[p.A], r.Records[p.B]
		row := []string{
			p.StudyA, p.StudyB, strconv.FormatFloat(p.Similarity, 'f', 3, 64),
			a.Title, b.Title, a.Authors, b.Authors,
			a.Year, b.Year, a.DOI, b.DOI,
			a.SourceDatabase, b.SourceDatabase, a.Abstract, b.Abstract,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
