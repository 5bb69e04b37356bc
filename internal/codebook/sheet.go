package codebook

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrEmptySheet is returned for a sheet without a header row.
var ErrEmptySheet = errors.New("codebook sheet has no header")

// Row is one effect size. Line is the 1-based line in the source file.
type Row struct {
	Line   int
	Values map[string]string
}

// Get returns the trimmed value of col, or "".
func (r Row) Get(col string) string { return strings.TrimSpace(r.Values[col]) }

// Present reports whether col holds a real value: not empty and not a sentinel.
func (r Row) Present(col string) bool {
	v := r.Get(col)
	return v != "" && !IsSentinel(v)
}

// Float parses col as a number. Missing values and sentinels report false.
func (r Row) Float(col string) (float64, bool) {
	if !r.Present(col) {
		return 0, false
	}
	f, err := strconv.ParseFloat(r.Get(col), 64)
	return f, err == nil
}

// Int parses col as an integer. Missing values and sentinels report false.
func (r Row) Int(col string) (int, bool) {
	if !r.Present(col) {
		return 0, false
	}
	n, err := strconv.Atoi(r.Get(col))
	return n, err == nil
}

// ESID returns the effect size identifier.
func (r Row) ESID() string { return r.Get(ColESID) }

// StudyID returns the study identifier.
func (r Row) StudyID() string { return r.Get(ColStudyID) }

// ReadSheet parses a CSV coding sheet. Header names are matched
// case-insensitively; unknown columns are kept as-is.
func ReadSheet(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptySheet
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		blank := true
		for _, v := range rec {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}
		values := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				values[h] = rec[i]
			}
		}
		rows = append(rows, Row{Line: line, Values: values})
	}
	return rows, nil
}

// ReadSheetFile opens and parses path.
func ReadSheetFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open codebook: %w", err)
	}
	defer f.Close()
	rows, err := ReadSheet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
