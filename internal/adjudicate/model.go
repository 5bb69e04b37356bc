// Package adjudicate is the terminal screen a reviewer uses to settle the
// borderline duplicate pairs that dedup could not decide on its own.
package adjudicate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"litreview/internal/dedup"
	"litreview/internal/logging"
)

const (
	minCardWidth = 30
	abstractCap  = 400
)

// Model walks the reviewer through the pairs one at a time.
type Model struct {
	pairs    []dedup.Pair
	verdicts []dedup.Verdict
	cursor   int

	width  int
	height int

	keys     keyMap
	help     help.Model
	progress progress.Model
	styles   Styles

	done     bool
	quitting bool
}

// New builds a Model over pairs. Verdicts already present in prior are
// pre-filled and the cursor starts at the first undecided pair.
func New(pairs []dedup.Pair, prior []dedup.Decision) Model {
	m := Model{
		pairs:    pairs,
		verdicts: make([]dedup.Verdict, len(pairs)),
		keys:     defaultKeys(),
		help:     help.New(),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		styles:   DefaultStyles(),
		width:    100,
	}
	byPair := make(map[[2]string]dedup.Verdict, len(prior))
	for _, d := range prior {
		byPair[[2]string{d.A, d.B}] = d.Verdict
	}
	m.cursor = len(pairs)
	for i, p := range pairs {
		if v, ok := byPair[[2]string{p.StudyA, p.StudyB}]; ok {
			m.verdicts[i] = v
		} else if m.cursor == len(pairs) {
			m.cursor = i
		}
	}
	m.done = len(pairs) == 0 || m.cursor == len(pairs)
	if m.done && len(pairs) > 0 {
		m.cursor = len(pairs) - 1
	}
	return m
}

// WithStyles returns a copy of m using s.
func (m Model) WithStyles(s Styles) Model {
	m.styles = s
	return m
}

func (m Model) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.progress.Width = max(10, msg.Width/3)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Back):
			if m.cursor > 0 {
				m.cursor--
			}
			m.done = false
			return m, nil
		case key.Matches(msg, m.keys.Duplicate):
			return m.decide(dedup.VerdictDuplicate)
		case key.Matches(msg, m.keys.Distinct):
			return m.decide(dedup.VerdictDistinct)
		case key.Matches(msg, m.keys.Skip):
			return m.decide(dedup.VerdictSkip)
		}
	}
	return m, nil
}

func (m Model) decide(v dedup.Verdict) (tea.Model, tea.Cmd) {
	if m.done || m.cursor >= len(m.pairs) {
		return m, nil
	}
	p := m.pairs[m.cursor]
	m.verdicts = slices.Clone(m.verdicts)
	m.verdicts[m.cursor] = v
	logging.Audit().Adjudication(p.StudyA, p.StudyB, string(v))
	logging.DedupDebug("Pair %s/%s marked %s", p.StudyA, p.StudyB, v)

	if m.cursor == len(m.pairs)-1 {
		m.done = true
		return m, tea.Quit
	}
	m.cursor++
	return m, nil
}

// Decisions returns the verdicts given so far, in pair order.
func (m Model) Decisions() []dedup.Decision {
	var out []dedup.Decision
	for i, v := range m.verdicts {
		if v == "" {
			continue
		}
		out = append(out, dedup.Decision{A: m.pairs[i].StudyA, B: m.pairs[i].StudyB, Verdict: v})
	}
	return out
}

// Done reports whether the reviewer reached the end of the list.
func (m Model) Done() bool { return m.done }

// Quit reports whether the reviewer left early.
func (m Model) Quit() bool { return m.quitting }

// Cursor returns the index of the pair on screen.
func (m Model) Cursor() int { return m.cursor }

func (m Model) decided() int {
	n := 0
	for _, v := range m.verdicts {
		if v != "" {
			n++
		}
	}
	return n
}

func (m Model) View() string {
	if len(m.pairs) == 0 {
		return m.styles.Muted.Render("No borderline pairs to review.") + "\n"
	}
	if m.quitting || m.done {
		return m.styles.Footer.Render(fmt.Sprintf("Reviewed %d of %d pairs.", m.decided(), len(m.pairs))) + "\n"
	}

	p := m.pairs[m.cursor]
	header := m.styles.Header.Render(fmt.Sprintf("Pair %d of %d  ·  similarity %.3f", m.cursor+1, len(m.pairs), p.Similarity))
	if v := m.verdicts[m.cursor]; v != "" {
		header += "  " + m.styles.Verdicts[string(v)].Render(string(v))
	}
	bar := m.progress.ViewAs(float64(m.decided()) / float64(len(m.pairs)))

	cardWidth := max(minCardWidth, (m.width-6)/2)
	left := m.card(cardWidth, p.StudyA, p.TitleA, p.AuthorsA, p.YearA, p.DOIA, p.SourceA, p.AbstractA, p.TitleB)
	right := m.card(cardWidth, p.StudyB, p.TitleB, p.AuthorsB, p.YearB, p.DOIB, p.SourceB, p.AbstractB, p.TitleA)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		bar,
		body,
		m.styles.Footer.Render(m.help.View(m.keys)),
	) + "\n"
}

func (m Model) card(width int, id, title, authors, year, doi, source, abstract, otherTitle string) string {
	s := m.styles
	field := func(label, v string) string {
		if v == "" {
			v = s.Muted.Render("n/a")
		}
		return s.Label.Render(label+": ") + s.Body.Render(v)
	}
	titleStyle := s.Body
	if normTitle(title) == normTitle(otherTitle) {
		titleStyle = s.Match
	}
	if r := []rune(abstract); len(r) > abstractCap {
		abstract = string(r[:abstractCap]) + "…"
	}
	lines := []string{
		s.Label.Render(id),
		titleStyle.Bold(true).Render(title),
		field("Authors", authors),
		field("Year", year),
		field("DOI", doi),
		field("Source", source),
		"",
		s.Muted.Render(abstract),
	}
	return s.Card.Width(width).Render(strings.Join(lines, "\n"))
}

func normTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}
