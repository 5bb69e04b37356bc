package dedup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"litreview/internal/bib"
	"litreview/internal/logging"
)

// ErrNoSources is returned when none of the configured exports exist.
var ErrNoSources = errors.New("no source files found; export search results first")

// Merge loads every configured export that exists, tagging each record with
// its source label and file name. Missing files are logged and skipped.
// It returns the records and the labels of the sources actually loaded.
func Merge(ctx context.Context, sources []Source) ([]bib.Record, []string, error) {
	var (
		all    []bib.Record
		loaded []string
	)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		if _, err := os.Stat(src.FilePath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.DedupWarn("Missing source file %s (%s), skipping", src.FilePath, src.SourceLabel)
				continue
			}
			return nil, nil, fmt.Errorf("stat %s: %w", src.FilePath, err)
		}

		var format bib.Format
		if src.Format != "" {
			f, err := bib.ParseFormat(src.Format)
			if err != nil {
				return nil, nil, err
			}
			format = f
		}

		records, err := bib.ReadFile(src.FilePath, format, src.ColumnMap)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", src.SourceLabel, err)
		}

		base := filepath.Base(src.FilePath)
		for i := range records {
			records[i].SourceDatabase = src.SourceLabel
			records[i].SourceFile = base
		}
		logging.Dedup("Loaded %d records from %s (%s)", len(records), src.SourceLabel, base)

		all = append(all, records...)
		loaded = append(loaded, src.SourceLabel)
	}

	if len(loaded) == 0 {
		return nil, nil, ErrNoSources
	}
	return all, loaded, nil
}
