package bib

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadDelimited parses a header-row export. columnMap renames source columns
// to standard names before lookup; matching ignores case and surrounding space.
// Standard columns absent from the file are left empty.
func ReadDelimited(r io.Reader, comma rune, columnMap map[string]string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	rename := make(map[string]string, len(columnMap))
	for src, dst := range columnMap {
		rename[headerKey(src)] = headerKey(dst)
	}

	// index of each standard column in the source row
	index := make(map[string]int)
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		key := headerKey(h)
		if mapped, ok := rename[key]; ok {
			key = mapped
		}
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return records, fmt.Errorf("line %d: %w", line, err)
		}
		if isBlankRow(row) {
			continue
		}

		var rec Record
		for _, col := range append([]string{ColStudyID}, StandardColumns...) {
			i, ok := index[col]
			if !ok || i >= len(row) {
				continue
			}
			rec.Set(col, strings.TrimSpace(row[i]))
		}
		records = append(records, rec)
	}
	return records, nil
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteCSV writes records with the standard header. study_id leads when any
// record carries one.
func WriteCSV(w io.Writer, records []Record) error {
	cols := StandardColumns
	for _, r := range records {
		if r.StudyID != "" {
			cols = append([]string{ColStudyID}, StandardColumns...)
			break
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for i := range records {
		for j, c := range cols {
			row[j] = records[i].Get(c)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
