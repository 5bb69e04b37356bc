package dedup

import (
	"fmt"
	"math"
	"time"

	"litreview/internal/bib"
	"litreview/internal/logging"
)

// Flag records why a record was removed.
type Flag string

const (
	FlagNone        Flag = ""
	FlagDOI         Flag = "doi"
	FlagTitle       Flag = "title"
	FlagAdjudicated Flag = "adjudicated"
)

// Options tunes duplicate detection.
type Options struct {
	// TitleThreshold is the Jaccard word similarity at or above which titles match.
	TitleThreshold float64
	// BorderlineThreshold is the lower edge of the band queued for a human.
	BorderlineThreshold float64
	// Sources names the loaded exports for the report.
	Sources []string
	// Now stamps the report; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TitleThreshold <= 0 {
		o.TitleThreshold = DefaultTitleThreshold
	}
	if o.BorderlineThreshold <= 0 {
		o.BorderlineThreshold = DefaultBorderlineThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CandidatePair is a near-duplicate that needs a human decision.
// Both records are kept until adjudicated.
type CandidatePair struct {
	A, B       int     // indices into Result.Records, A < B
	StudyA     string  // study ID assigned to A
	StudyB     string  // study ID assigned to B
	Similarity float64 // Jaccard similarity of the normalized titles
}

// Result holds the outcome of a deduplication pass.
type Result struct {
	Records     []bib.Record // every input record, in input order
	Flags       []Flag       // parallel to Records
	DuplicateOf []int        // index of the kept record, or -1
	Unique      []bib.Record // kept records with study IDs assigned
	Candidates  []CandidatePair
	Report      Report

	opts Options
}

// Similarity is the Jaccard similarity of the word sets of two titles
// after normalization.
func Similarity(a, b string) float64 {
	return jaccard(bib.TitleWords(bib.NormalizeTitle(a)), bib.TitleWords(bib.NormalizeTitle(b)))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Deduplicate removes DOI duplicates first, then title duplicates among the
// remaining records, keeping the first occurrence in input order.
func Deduplicate(records []bib.Record, opts Options) *Result {
	opts = opts.withDefaults()
	timer := logging.StartTimer(logging.CategoryDedup, "deduplicate")
	defer timer.Stop()

	n := len(records)
	res := &Result{
		Records:     records,
		Flags:       make([]Flag, n),
		DuplicateOf: make([]int, n),
		opts:        opts,
	}
	for i := range res.DuplicateOf {
		res.DuplicateOf[i] = -1
	}

	// DOI pass
	firstByDOI := make(map[string]int)
	for i := range records {
		doi := bib.NormalizeDOI(records[i].DOI)
		if doi == "" {
			continue
		}
		if first, ok := firstByDOI[doi]; ok {
			res.Flags[i] = FlagDOI
			res.DuplicateOf[i] = first
			continue
		}
		firstByDOI[doi] = i
	}

	// Title pass over records the DOI pass kept.
	titles := make([]string, n)
	words := make([]map[string]struct{}, n)
	for i := range records {
		titles[i] = bib.NormalizeTitle(records[i].Title)
		words[i] = bib.TitleWords(titles[i])
	}

	for i := 0; i < n; i++ {
		if res.Flags[i] != FlagNone || len(words[i]) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if res.Flags[j] != FlagNone || len(words[j]) == 0 {
				continue
			}
			if titles[i] == titles[j] || jaccard(words[i], words[j]) >= opts.TitleThreshold {
				res.Flags[j] = FlagTitle
				res.DuplicateOf[j] = i
			}
		}
	}

	// Borderline band among survivors, gated on year and first author.
	surnames := make([]string, n)
	years := make([]string, n)
	for i := range records {
		surnames[i] = bib.FirstAuthorSurname(records[i].Authors)
		years[i] = bib.NormalizeYear(records[i].Year)
	}
	for i := 0; i < n; i++ {
		if res.Flags[i] != FlagNone || len(words[i]) == 0 || surnames[i] == "" || years[i] == "" {
			continue
		}
		for j := i + 1; j < n; j++ {
			if res.Flags[j] != FlagNone || years[j] != years[i] || surnames[j] != surnames[i] {
				continue
			}
			sim := jaccard(words[i], words[j])
			if sim >= opts.BorderlineThreshold && sim < opts.TitleThreshold {
				res.Candidates = append(res.Candidates, CandidatePair{A: i, B: j, Similarity: round3(sim)})
			}
		}
	}

	res.rebuild()
	logging.Dedup("Deduplicated %d records: %d doi, %d title, %d borderline pairs",
		n, res.Report.DOIDuplicatesRemoved, res.Report.TitleDuplicatesRemoved, len(res.Candidates))
	return res
}

// rebuild assigns study IDs to kept records and recomputes the report.
func (r *Result) rebuild() {
	ids := make([]string, len(r.Records))
	r.Unique = make([]bib.Record, 0, len(r.Records))
	for i := range r.Records {
		if r.Flags[i] != FlagNone {
			continue
		}
		rec := r.Records[i]
		rec.StudyID = fmt.Sprintf("STUDY_%04d", len(r.Unique)+1)
		ids[i] = rec.StudyID
		r.Unique = append(r.Unique, rec)
	}
	for k := range r.Candidates {
		r.Candidates[k].StudyA = ids[r.Candidates[k].A]
		r.Candidates[k].StudyB = ids[r.Candidates[k].B]
	}

	rep := Report{
		Timestamp:          r.opts.Now().UTC().Format(time.RFC3339),
		Sources:            r.opts.Sources,
		TotalOriginal:      len(r.Records),
		FinalUniqueRecords: len(r.Unique),
		BorderlinePairs:    len(r.Candidates),
	}
	if rep.Sources == nil {
		rep.Sources = []string{}
	}
	for _, f := range r.Flags {
		switch f {
		case FlagDOI:
			rep.DOIDuplicatesRemoved++
		case FlagTitle:
			rep.TitleDuplicatesRemoved++
		case FlagAdjudicated:
			rep.AdjudicatedDuplicatesRemoved++
		}
	}
	rep.TotalDuplicatesRemoved = rep.DOIDuplicatesRemoved + rep.TitleDuplicatesRemoved + rep.AdjudicatedDuplicatesRemoved
	if rep.TotalOriginal > 0 {
		rep.DeduplicationRate = round3(float64(rep.TotalDuplicatesRemoved) / float64(rep.TotalOriginal))
	}
	r.Report = rep
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
