package prisma

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Fill classes, one per colour in the palette.
const (
	FillIdentification = "identification"
	FillScreening      = "screening"
	FillIncluded       = "included"
	FillExcluded       = "excluded"
)

// Palette maps fill classes and line roles to colours.
var Palette = map[string]string{
	FillIdentification: "#D6EAF8",
	FillScreening:      "#D5F5E3",
	FillIncluded:       "#FCF3CF",
	FillExcluded:       "#FDEDEC",
	"border":           "#2C3E50",
	"arrow":            "#2C3E50",
	"text":             "#1A252F",
	"separator":        "#BDC3C7",
}

// Box is one node of the flow. Col 0 is the main column; higher columns sit
// to its right.
type Box struct {
	ID    string
	Lines []string
	Fill  string
	Row   int
	Col   int
}

// Edge is an arrow between two boxes.
type Edge struct {
	From, To string
}

// Phase is a labelled band spanning rows [FirstRow, LastRow].
type Phase struct {
	Name     string
	FirstRow int
	LastRow  int
}

// Diagram is a laid-out flow ready to render.
type Diagram struct {
	Title  string
	Phases []Phase
	Boxes  []Box
	Edges  []Edge
}

// Rows returns the number of rows used.
func (d *Diagram) Rows() int {
	n := 0
	for _, b := range d.Boxes {
		if b.Row+1 > n {
			n = b.Row + 1
		}
	}
	return n
}

func (d *Diagram) box(id string) *Box {
	for i := range d.Boxes {
		if d.Boxes[i].ID == id {
			return &d.Boxes[i]
		}
	}
	return nil
}

func (d *Diagram) add(b Box)             { d.Boxes = append(d.Boxes, b) }
func (d *Diagram) link(from, to string) { d.Edges = append(d.Edges, Edge{from, to}) }

var numbers = message.NewPrinter(language.English)

// n formats a count with thousands separators.
func n(v int) string { return numbers.Sprintf("%d", v) }

// Diagram lays out the PRISMA 2020 flow.
func (c *Counts2020) Diagram() *Diagram {
	d := &Diagram{
		Title: "PRISMA 2020 Flow Diagram",
		Phases: []Phase{
			{"Identification", 0, 1},
			{"Screening", 2, 2},
			{"Eligibility", 3, 3},
			{"Included", 4, 4},
		},
	}
	dup := c.RecordsIdentifiedDatabases + c.RecordsIdentifiedOther - c.RecordsAfterDedup

	d.add(Box{ID: "databases", Row: 0, Col: 0, Fill: FillIdentification,
		Lines: []string{"Records identified from databases", "(n = " + n(c.RecordsIdentifiedDatabases) + ")"}})
	d.add(Box{ID: "other", Row: 0, Col: 1, Fill: FillIdentification,
		Lines: []string{"Records from other sources", "(grey lit, handsearch)", "(n = " + n(c.RecordsIdentifiedOther) + ")"}})
	d.add(Box{ID: "dedup", Row: 1, Col: 0, Fill: FillIdentification,
		Lines: []string{"Records after duplicates removed", "(n = " + n(c.RecordsAfterDedup) + ")", "Duplicates removed: " + n(dup)}})
	d.add(Box{ID: "screened", Row: 2, Col: 0, Fill: FillScreening,
		Lines: []string{"Records screened", "(n = " + n(c.RecordsScreened) + ")"}})
	d.add(Box{ID: "excluded", Row: 2, Col: 1, Fill: FillExcluded,
		Lines: []string{"Records excluded", "(title/abstract screen)", "(n = " + n(c.RecordsExcludedScreening) + ")"}})
	d.add(Box{ID: "assessed", Row: 3, Col: 0, Fill: FillScreening,
		Lines: []string{"Full-text articles assessed", "for eligibility", "(n = " + n(c.FullTextAssessed) + ")"}})

	reasons := c.reasons()
	lines := []string{"Full-text excluded (n = " + n(c.FullTextExcluded) + "):"}
	for _, r := range sortedReasons(reasons) {
		lines = append(lines, "  "+r+": "+n(reasons[r]))
	}
	d.add(Box{ID: "ft_excluded", Row: 3, Col: 1, Fill: FillExcluded, Lines: lines})
	d.add(Box{ID: "included", Row: 4, Col: 0, Fill: FillIncluded,
		Lines: []string{
			"Studies included in meta-analysis", "(n = " + n(c.StudiesIncluded) + ")",
			"Effect sizes (Hedges' g) included", "(n = " + n(c.EffectSizesIncluded) + ")",
		}})

	d.link("databases", "dedup")
	d.link("other", "dedup")
	d.link("dedup", "screened")
	d.link("screened", "excluded")
	d.link("screened", "assessed")
	d.link("assessed", "ft_excluded")
	d.link("assessed", "included")
	return d
}

// Diagram lays out the PRISMA-ScR flow.
func (c *CountsScR) Diagram() *Diagram {
	d := &Diagram{
		Title: "PRISMA-ScR Flow Diagram",
		Phases: []Phase{
			{"Identification", 0, 1},
			{"Screening", 2, 4},
			{"Eligibility", 5, 5},
			{"Included", 6, 7},
		},
	}
	identified := c.RecordsDatabases + c.RecordsAPI + c.RecordsOther
	dup := identified - c.RecordsAfterDedup

	d.add(Box{ID: "databases", Row: 0, Col: 0, Fill: FillIdentification,
		Lines: []string{"Records from databases", "(WoS, Scopus, ERIC, PsycINFO)", "(n = " + n(c.RecordsDatabases) + ")"}})
	d.add(Box{ID: "api", Row: 0, Col: 1, Fill: FillIdentification,
		Lines: []string{"Records from APIs", "(Semantic Scholar, OpenAlex)", "(n = " + n(c.RecordsAPI) + ")"}})
	if c.RecordsOther > 0 {
		d.add(Box{ID: "other", Row: 0, Col: 2, Fill: FillIdentification,
			Lines: []string{"Citation tracking", "& hand search", "(n = " + n(c.RecordsOther) + ")"}})
	}
	d.add(Box{ID: "dedup", Row: 1, Col: 0, Fill: FillIdentification,
		Lines: []string{"Records after duplicates removed", "(n = " + n(c.RecordsAfterDedup) + ")", "Duplicates removed: " + n(dup)}})
	d.add(Box{ID: "screened", Row: 2, Col: 0, Fill: FillScreening,
		Lines: []string{"Title/abstract screened", "(AI-assisted with human verification)", "(n = " + n(c.RecordsScreened) + ")"}})
	d.add(Box{ID: "excluded", Row: 2, Col: 1, Fill: FillExcluded,
		Lines: []string{"Records excluded", "(title/abstract)", "(n = " + n(c.RecordsExcludedScreening) + ")"}})
	if c.RecordsUncertain > 0 {
		d.add(Box{ID: "uncertain", Row: 3, Col: 1, Fill: FillExcluded,
			Lines: []string{"Uncertain records", "for human review", "(n = " + n(c.RecordsUncertain) + ")"}})
	}
	d.add(Box{ID: "sought", Row: 4, Col: 0, Fill: FillScreening,
		Lines: []string{"Full-text sources sought", "for retrieval", "(n = " + n(c.FullTextSought) + ")"}})
	if c.FullTextNotRetrieved > 0 {
		d.add(Box{ID: "not_retrieved", Row: 4, Col: 1, Fill: FillExcluded,
			Lines: []string{"Not retrieved", "(n = " + n(c.FullTextNotRetrieved) + ")"}})
	}
	d.add(Box{ID: "assessed", Row: 5, Col: 0, Fill: FillScreening,
		Lines: []string{"Full-text sources assessed", "for eligibility", "(n = " + n(c.FullTextAssessed) + ")"}})
	lines := []string{"Full-text excluded (n = " + n(c.FullTextExcluded) + "):"}
	for _, r := range sortedReasons(c.FullTextExclusionReasons) {
		lines = append(lines, "  "+r+": "+n(c.FullTextExclusionReasons[r]))
	}
	d.add(Box{ID: "ft_excluded", Row: 5, Col: 1, Fill: FillExcluded, Lines: lines})
	d.add(Box{ID: "included", Row: 6, Col: 0, Fill: FillIncluded,
		Lines: []string{"Sources included in", "scoping review", "(n = " + n(c.SourcesIncluded) + ")"}})

	var breakdown []string
	if c.IncludedEmpirical > 0 {
		breakdown = append(breakdown, "Empirical: "+n(c.IncludedEmpirical))
	}
	if c.IncludedConceptual > 0 {
		breakdown = append(breakdown, "Conceptual: "+n(c.IncludedConceptual))
	}
	if c.IncludedReviews > 0 {
		breakdown = append(breakdown, "Reviews: "+n(c.IncludedReviews))
	}
	if len(breakdown) > 0 {
		d.add(Box{ID: "types", Row: 7, Col: 0, Fill: FillIncluded,
			Lines: []string{"Study types:", strings.Join(breakdown, " | ")}})
		d.link("included", "types")
	} else {
		d.Phases[3].LastRow = 6
	}

	d.link("databases", "dedup")
	d.link("api", "dedup")
	if c.RecordsOther > 0 {
		d.link("other", "dedup")
	}
	d.link("dedup", "screened")
	d.link("screened", "excluded")
	d.link("screened", "sought")
	if c.FullTextNotRetrieved > 0 {
		d.link("sought", "not_retrieved")
	}
	d.link("sought", "assessed")
	d.link("assessed", "ft_excluded")
	d.link("assessed", "included")
	return d
}
