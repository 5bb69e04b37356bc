// Package bib reads and writes bibliographic records exported from literature
// databases (CSV, tab-delimited, RIS, BibTeX, PubMed XML) and normalizes the
// fields used for duplicate detection.
package bib

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Standard column names, in output order.
const (
	ColStudyID        = "study_id"
	ColTitle          = "title"
	ColAbstract       = "abstract"
	ColAuthors        = "authors"
	ColYear           = "year"
	ColDOI            = "doi"
	ColJournal        = "journal"
	ColVolume         = "volume"
	ColIssue          = "issue"
	ColPages          = "pages"
	ColSourceDatabase = "source_database"
	ColSourceFile     = "source_file"
)

// StandardColumns is the canonical record layout shared by every reader and writer.
var StandardColumns = []string{
	ColTitle, ColAbstract, ColAuthors, ColYear, ColDOI, ColJournal,
	ColVolume, ColIssue, ColPages, ColSourceDatabase, ColSourceFile,
}

// Record is one bibliographic entry.
type Record struct {
	StudyID        string `json:"study_id,omitempty"`
	Title          string `json:"title"`
	Abstract       string `json:"abstract"`
	Authors        string `json:"authors"`
	Year           string `json:"year"`
	DOI            string `json:"doi"`
	Journal        string `json:"journal"`
	Volume         string `json:"volume"`
	Issue          string `json:"issue"`
	Pages          string `json:"pages"`
	SourceDatabase string `json:"source_database"`
	SourceFile     string `json:"source_file"`
}

// Get returns the value of a standard column.
func (r *Record) Get(col string) string {
	if p := r.field(col); p != nil {
		return *p
	}
	return ""
}

// Set assigns a standard column. Unknown columns are ignored and reported false.
func (r *Record) Set(col, value string) bool {
	p := r.field(col)
	if p == nil {
		return false
	}
	*p = value
	return true
}

func (r *Record) field(col string) *string {
	switch col {
	case ColStudyID:
		return &r.StudyID
	case ColTitle:
		return &r.Title
	case ColAbstract:
		return &r.Abstract
	case ColAuthors:
		return &r.Authors
	case ColYear:
		return &r.Year
	case ColDOI:
		return &r.DOI
	case ColJournal:
		return &r.Journal
	case ColVolume:
		return &r.Volume
	case ColIssue:
		return &r.Issue
	case ColPages:
		return &r.Pages
	case ColSourceDatabase:
		return &r.SourceDatabase
	case ColSourceFile:
		return &r.SourceFile
	}
	return nil
}

// Format identifies an export file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatTSV    Format = "tsv"
	FormatRIS    Format = "ris"
	FormatBibTeX Format = "bibtex"
	FormatXML    Format = "xml"
)

// ErrUnknownFormat is returned when a format cannot be determined.
var ErrUnknownFormat = errors.New("unknown bibliographic format")

// ParseFormat resolves a format name as written in a dedup config.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FormatCSV, nil
	case "tsv", "tab", "txt", "tab-delimited":
		return FormatTSV, nil
	case "ris":
		return FormatRIS, nil
	case "bib", "bibtex":
		return FormatBibTeX, nil
	case "xml", "pubmed":
		return FormatXML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}
