package bib

import "testing"

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Agentic AI: A Review!", "agentic ai a review"},
		{"  Über   Lernen—Tutors ", "uber lernen tutors"},
		{"Students' trust_in AI", "students trust_in ai"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDOI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://doi.org/10.1000/ABC", "10.1000/abc"},
		{"DOI:10.1/x", "10.1/x"},
		{" 10.5/Y ", "10.5/y"},
		{"http://dx.doi.org/10.2/z", "10.2/z"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeDOI(tt.in); got != tt.want {
			t.Errorf("NormalizeDOI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeYear(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2021-05-01", "2021"},
		{"Spring 1998", "1998"},
		{"n.d.", ""},
	}
	for _, tt := range tests {
		if got := NormalizeYear(tt.in); got != tt.want {
			t.Errorf("NormalizeYear(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstAuthorSurname(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Smith, John; Doe, Jane", "smith"},
		{"Smith J., Doe A.", "smith"},
		{"John Smith and Jane Doe", "smith"},
		{"Müller, K.", "muller"},
		{"Li W", "li"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FirstAuthorSurname(tt.in); got != tt.want {
			t.Errorf("FirstAuthorSurname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleWords(t *testing.T) {
	w := TitleWords("ai tutors ai")
	if len(w) != 2 {
		t.Fatalf("expected 2 distinct words, got %d", len(w))
	}
}
