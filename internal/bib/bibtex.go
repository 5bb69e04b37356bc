package bib

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"litreview/internal/logging"
)

// ReadBibTeX parses @article{key, field = {value}, ...} entries.
// @comment, @string and @preamble blocks are skipped. A malformed entry is
// logged and skipped when another entry follows it.
func ReadBibTeX(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	p := &bibParser{src: string(data)}

	var records []Record
	for {
		fields, ok, err := p.nextEntry()
		if err != nil {
			// Resume at the next entry; a file that ends inside one is an error.
			next := strings.Index(p.src[p.entry:], "\n@")
			if next < 0 {
				return records, err
			}
			logging.DedupWarn("Skipping malformed BibTeX entry: %v", err)
			p.pos = p.entry + next + 1
			continue
		}
		if !ok {
			return records, nil
		}
		records = append(records, bibRecord(fields))
	}
}

func bibRecord(f map[string]string) Record {
	rec := Record{
		Title:    f["title"],
		Abstract: f["abstract"],
		Year:     NormalizeYear(f["year"]),
		DOI:      f["doi"],
		Journal:  f["journal"],
		Volume:   f["volume"],
		Issue:    f["number"],
		Pages:    strings.ReplaceAll(f["pages"], "--", "-"),
	}
	if rec.Journal == "" {
		rec.Journal = f["booktitle"]
	}
	if rec.Issue == "" {
		rec.Issue = f["issue"]
	}
	if a := f["author"]; a != "" {
		parts := strings.Split(a, " and ")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rec.Authors = strings.Join(parts, "; ")
	}
	return rec
}

type bibParser struct {
	src   string
	pos   int
	entry int // offset of the '@' that opened the current entry
}

func (p *bibParser) errorf(format string, args ...interface{}) error {
	line := 1 + strings.Count(p.src[:p.pos], "\n")
	return fmt.Errorf("bibtex line %d: %s", line, fmt.Sprintf(format, args...))
}

func (p *bibParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *bibParser) nextEntry() (map[string]string, bool, error) {
	for {
		at := strings.IndexByte(p.src[p.pos:], '@')
		if at < 0 {
			p.pos = len(p.src)
			return nil, false, nil
		}
		p.entry = p.pos + at
		p.pos += at + 1

		start := p.pos
		for p.pos < len(p.src) && unicode.IsLetter(rune(p.src[p.pos])) {
			p.pos++
		}
		kind := strings.ToLower(p.src[start:p.pos])
		p.skipSpace()
		if p.pos >= len(p.src) || (p.src[p.pos] != '{' && p.src[p.pos] != '(') {
			continue
		}
		closer := byte('}')
		if p.src[p.pos] == '(' {
			closer = ')'
		}

		switch kind {
		case "comment", "string", "preamble":
			if _, err := p.readBraced(); err != nil {
				return nil, false, err
			}
			continue
		}
		p.pos++

		// citation key
		comma := strings.IndexAny(p.src[p.pos:], ",}")
		if comma < 0 {
			return nil, false, p.errorf("unterminated entry")
		}
		p.pos += comma
		if p.src[p.pos] == '}' {
			p.pos++
			return map[string]string{}, true, nil
		}
		p.pos++

		fields, err := p.readFields(closer)
		if err != nil {
			return nil, false, err
		}
		return fields, true, nil
	}
}

func (p *bibParser) readFields(closer byte) (map[string]string, error) {
	fields := make(map[string]string)
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unexpected end of input")
		}
		if p.src[p.pos] == closer {
			p.pos++
			return fields, nil
		}
		if p.src[p.pos] == ',' {
			p.pos++
			continue
		}

		eq := strings.IndexByte(p.src[p.pos:], '=')
		if eq < 0 {
			return nil, p.errorf("expected '=' after field name")
		}
		name := strings.ToLower(strings.TrimSpace(p.src[p.pos : p.pos+eq]))
		if !validFieldName(name) {
			return nil, p.errorf("invalid field name %q", name)
		}
		p.pos += eq + 1

		value, err := p.readValue(closer)
		if err != nil {
			return nil, err
		}
		fields[name] = cleanBibValue(value)
	}
}

// readValue reads one value, joining "#" concatenations.
func (p *bibParser) readValue(closer byte) (string, error) {
	var b strings.Builder
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return "", p.errorf("unexpected end of value")
		}
		switch p.src[p.pos] {
		case '{':
			v, err := p.readBraced()
			if err != nil {
				return "", err
			}
			b.WriteString(v)
		case '"':
			v, err := p.readQuoted()
			if err != nil {
				return "", err
			}
			b.WriteString(v)
		default:
			start := p.pos
			for p.pos < len(p.src) {
				c := p.src[p.pos]
				if c == ',' || c == closer || c == '#' || unicode.IsSpace(rune(c)) {
					break
				}
				p.pos++
			}
			b.WriteString(p.src[start:p.pos])
		}
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '#' {
			p.pos++
			continue
		}
		return b.String(), nil
	}
}

// readBraced consumes a balanced {...} group and returns its inner text.
func (p *bibParser) readBraced() (string, error) {
	open := p.src[p.pos]
	end := byte('}')
	if open == '(' {
		end = ')'
	}
	depth := 0
	start := p.pos + 1
	for ; p.pos < len(p.src); p.pos++ {
		switch p.src[p.pos] {
		case '\\':
			p.pos++
		case open:
			depth++
		case end:
			depth--
			if depth == 0 {
				inner := p.src[start:p.pos]
				p.pos++
				return inner, nil
			}
		}
	}
	return "", p.errorf("unbalanced braces")
}

func (p *bibParser) readQuoted() (string, error) {
	p.pos++
	start := p.pos
	depth := 0
	for ; p.pos < len(p.src); p.pos++ {
		switch p.src[p.pos] {
		case '\\':
			p.pos++
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			if depth == 0 {
				inner := p.src[start:p.pos]
				p.pos++
				return inner, nil
			}
		}
	}
	return "", p.errorf("unterminated quoted value")
}

func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != ':' && r != '.' {
			return false
		}
	}
	return true
}

var latexReplacer = strings.NewReplacer(
	`\&`, "&", `\%`, "%", `\_`, "_", `\$`, "$",
	`\'`, "", `\"`, "", "\\`", "", `\^`, "", `\~`, "", `\c `, "",
	"{", "", "}", "",
)

func cleanBibValue(v string) string {
	return strings.Join(strings.Fields(latexReplacer.Replace(v)), " ")
}
