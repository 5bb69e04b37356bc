package bib

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents strips combining marks so "Müller" and "Muller" compare equal.
// A new chain is built per call: transformers are stateful.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeTitle lowercases a title, replaces punctuation with spaces and
// collapses whitespace.
func NormalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return ""
	}
	s := cases.Lower(language.Und).String(foldAccents(title))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// NormalizeDOI lowercases a DOI and strips resolver and "doi:" prefixes.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, p := range doiPrefixes {
		if strings.HasPrefix(d, p) {
			d = strings.TrimSpace(strings.TrimPrefix(d, p))
			break
		}
	}
	return d
}

var yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)

// NormalizeYear extracts a four-digit publication year, or "".
func NormalizeYear(s string) string {
	return yearPattern.FindString(s)
}

// TitleWords returns the set of words in a normalized title.
func TitleWords(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// FirstAuthorSurname returns the lowercased surname of the first listed author.
// It accepts "Surname, Given; ...", "Surname G., Other A.", "Given Surname and ...".
func FirstAuthorSurname(authors string) string {
	first := strings.TrimSpace(authors)
	if first == "" {
		return ""
	}
	if i := strings.Index(first, ";"); i >= 0 {
		first = first[:i]
	}
	if i := strings.Index(first, " and "); i >= 0 {
		first = first[:i]
	}
	if i := strings.Index(first, ","); i >= 0 {
		first = first[:i]
	}

	words := strings.Fields(first)
	var surname string
	switch {
	case len(words) == 0:
		return ""
	case len(words) == 1:
		surname = words[0]
	case isInitials(words[len(words)-1]):
		// "Smith J." form
		surname = words[0]
	default:
		surname = words[len(words)-1]
	}
	return NormalizeTitle(surname)
}

func isInitials(w string) bool {
	w = strings.ReplaceAll(w, ".", "")
	w = strings.ReplaceAll(w, "-", "")
	if w == "" || len([]rune(w)) > 3 {
		return false
	}
	for _, r := range w {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
