package bib

import (
	"bufio"
	"io"
	"strings"
)

// ReadRIS parses an RIS export. Each record ends at an ER tag; a trailing
// record without ER is still returned.
func ReadRIS(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		records   []Record
		cur       Record
		authors   []string
		startPage string
		endPage   string
		open      bool
		lastTag   string
	)

	flush := func() {
		if !open {
			return
		}
		cur.Authors = strings.Join(authors, "; ")
		switch {
		case startPage != "" && endPage != "":
			cur.Pages = startPage + "-" + endPage
		case startPage != "":
			cur.Pages = startPage
		}
		records = append(records, cur)
		cur, authors, startPage, endPage, open, lastTag = Record{}, nil, "", "", false, ""
	}

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		tag, value, ok := risLine(line)
		if !ok {
			// Continuation of a wrapped abstract or title.
			if cont := strings.TrimSpace(line); cont != "" && open {
				switch lastTag {
				case "AB", "N2":
					cur.Abstract = strings.TrimSpace(cur.Abstract + " " + cont)
				case "TI", "T1":
					cur.Title = strings.TrimSpace(cur.Title + " " + cont)
				}
			}
			continue
		}

		if tag == "ER" {
			flush()
			continue
		}
		open = true
		lastTag = tag

		switch tag {
		case "TI", "T1":
			if cur.Title == "" {
				cur.Title = value
			}
		case "AB", "N2":
			if cur.Abstract == "" {
				cur.Abstract = value
			}
		case "AU", "A1":
			if value != "" {
				authors = append(authors, value)
			}
		case "PY", "Y1", "DA":
			if cur.Year == "" {
				cur.Year = NormalizeYear(value)
			}
		case "DO":
			cur.DOI = value
		case "JO", "JF", "T2", "JA":
			if cur.Journal == "" {
				cur.Journal = value
			}
		case "VL":
			cur.Volume = value
		case "IS":
			cur.Issue = value
		case "SP":
			startPage = value
		case "EP":
			endPage = value
		}
	}
	if err := scanner.Err(); err != nil {
		return records, err
	}
	flush()
	return records, nil
}

// risLine splits "TY  - JOUR" into tag and value.
func risLine(line string) (tag, value string, ok bool) {
	if len(line) < 5 || line[2] != ' ' || line[3] != ' ' || line[4] != '-' {
		return "", "", false
	}
	tag = line[:2]
	for _, c := range tag {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", "", false
		}
	}
	return tag, strings.TrimSpace(line[5:]), true
}
