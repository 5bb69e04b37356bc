package adjudicate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	tea "github.com/charmbracelet/bubbletea"

	"litreview/internal/dedup"
	"litreview/internal/logging"
)

// Result is what a review session produced.
type Result struct {
	Decisions []dedup.Decision
	Reviewed  int
	Total     int
	Complete  bool
}

// Run opens the review screen over pairs and blocks until the reviewer
// finishes or quits. Decisions made before quitting are kept.
func Run(ctx context.Context, pairs []dedup.Pair, prior []dedup.Decision, opts ...tea.ProgramOption) (*Result, error) {
	m := New(pairs, prior)
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)

	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	res := &Result{
		Decisions: m.Decisions(),
		Reviewed:  m.decided(),
		Total:     len(pairs),
		Complete:  m.Done(),
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return res, fmt.Errorf("review screen: %w", err)
	}
	return res, nil
}

// ReviewFile reviews the pairs in pairsPath and writes the verdicts to
// outPath. An existing outPath is loaded first so a session can resume.
func ReviewFile(ctx context.Context, pairsPath, outPath string, opts ...tea.ProgramOption) (*Result, error) {
	pairs, err := dedup.ReadPairs(pairsPath)
	if err != nil {
		return nil, err
	}
	prior, err := dedup.ReadDecisions(outPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if len(prior) > 0 {
		logging.Dedup("Resuming review with %d prior verdicts from %s", len(prior), outPath)
	}

	res, err := Run(ctx, pairs, prior, opts...)
	if res != nil {
		if werr := dedup.WriteDecisions(outPath, res.Decisions); werr != nil {
			return res, fmt.Errorf("write adjudications: %w", werr)
		}
		logging.Dedup("Wrote %d of %d verdicts to %s", res.Reviewed, res.Total, outPath)
	}
	return res, err
}
