package adjudicate

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the color scheme for the review screen.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

var (
	duplicateColor = lipgloss.Color("#e53935")
	distinctColor  = lipgloss.Color("#8BC34A")
	skipColor      = lipgloss.Color("#FFC107")
)

func LightTheme() Theme {
	return Theme{
		Foreground: lipgloss.Color("#101F38"),
		Primary:    lipgloss.Color("#2C3E50"),
		Accent:     lipgloss.Color("#2196F3"),
		Muted:      lipgloss.Color("#7F8C8D"),
		Border:     lipgloss.Color("#BDC3C7"),
	}
}

func DarkTheme() Theme {
	return Theme{
		Foreground: lipgloss.Color("#f2f2f2"),
		Primary:    lipgloss.Color("#8BC34A"),
		Accent:     lipgloss.Color("#4db6ac"),
		Muted:      lipgloss.Color("#95A5A6"),
		Border:     lipgloss.Color("#2a3850"),
		IsDark:     true,
	}
}

// DetectTheme picks dark mode from COLORFGBG or LITREV_DARK_MODE=1.
func DetectTheme() Theme {
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil && ((bg >= 0 && bg <= 6) || bg == 8) {
			return DarkTheme()
		}
	}
	if os.Getenv("LITREV_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds the styled components of the review screen.
type Styles struct {
	Theme Theme

	Header   lipgloss.Style
	Footer   lipgloss.Style
	Card     lipgloss.Style
	Label    lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style
	Match    lipgloss.Style
	Verdicts map[string]lipgloss.Style
}

func NewStyles(theme Theme) Styles {
	verdict := func(c lipgloss.Color) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c).Bold(true)
	}
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 1),

		Card: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),

		Label: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Match: lipgloss.NewStyle().
			Foreground(distinctColor),

		Verdicts: map[string]lipgloss.Style{
			"duplicate": verdict(duplicateColor),
			"distinct":  verdict(distinctColor),
			"skip":      verdict(skipColor),
		},
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}
