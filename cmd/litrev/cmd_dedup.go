package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litreview/internal/adjudicate"
	"litreview/internal/dedup"
	"litreview/internal/logging"
	"litreview/internal/store"
)

var (
	dedupConfigPath string
	dedupOutDir     string
	dedupAdjudicate string

	adjudicatePairs string
	adjudicateOut   string
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Merge database exports and remove duplicate records",
	Long: `Loads every export listed in the dedup config (CSV, TSV, RIS, BibTeX or
PubMed XML), removes DOI and title duplicates, and writes:

  merged_deduplicated.csv   unique records with study IDs
  dedup_report.json         counts per removal stage
  borderline_pairs.csv      pairs that need a human decision

Pass --adjudicate with an adjudications.json to apply reviewer verdicts.`,
	RunE: runDedup,
}

var adjudicateCmd = &cobra.Command{
	Use:   "adjudicate",
	Short: "Review borderline duplicate pairs in the terminal",
	Long: `Shows each borderline pair side by side.

  d  duplicate      k  keep both      s  skip
  b  back           q  save and quit

Verdicts are saved to --out. Re-running resumes at the first undecided pair.`,
	RunE: runAdjudicate,
}

func init() {
	dedupCmd.Flags().StringVar(&dedupConfigPath, "config", "dedup.json", "Dedup config (JSON)")
	dedupCmd.Flags().StringVar(&dedupOutDir, "out", "", "Output directory (default: config output_dir or current)")
	dedupCmd.Flags().StringVar(&dedupAdjudicate, "adjudicate", "", "Apply verdicts from an adjudications.json")

	adjudicateCmd.Flags().StringVar(&adjudicatePairs, "pairs", dedup.BorderlineFile, "Borderline pairs CSV")
	adjudicateCmd.Flags().StringVar(&adjudicateOut, "out", "adjudications.json", "Where to save verdicts")
}

func runDedup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	dc, err := dedup.LoadConfig(dedupConfigPath)
	if err != nil {
		return err
	}
	if dc.TitleThreshold == 0 && dc.TitleThresholdAlt == 0 {
		dc.TitleThreshold = cfg.Dedup.TitleThreshold
	}
	if dc.BorderlineThreshold == 0 {
		dc.BorderlineThreshold = cfg.Dedup.BorderlineThreshold
	}

	out := dedupOutDir
	if out == "" {
		out = dc.OutputDir
	}
	if out == "" {
		out = "."
	}

	records, sources, err := dedup.Merge(ctx, dc.SearchFiles)
	if err != nil {
		return err
	}

	opts := dc.Options()
	opts.Sources = sources
	res := dedup.Deduplicate(records, opts)
	res.Report.RunID = uuid.NewString()

	if dedupAdjudicate != "" {
		decisions, err := dedup.ReadDecisions(dedupAdjudicate)
		if err != nil {
			return err
		}
		if err := res.ApplyAdjudications(decisions); err != nil {
			return fmt.Errorf("apply %s: %w", dedupAdjudicate, err)
		}
		logger.Info("Applied adjudications", zap.Int("verdicts", len(decisions)))
	}

	if err := res.WriteOutputs(out); err != nil {
		return err
	}
	recordDedupRun(ctx, res.Report, time.Since(start))

	rep := res.Report
	fmt.Printf("Records loaded:        %d (%d sources)\n", rep.TotalOriginal, len(rep.Sources))
	fmt.Printf("DOI duplicates:        %d\n", rep.DOIDuplicatesRemoved)
	fmt.Printf("Title duplicates:      %d\n", rep.TitleDuplicatesRemoved)
	if rep.AdjudicatedDuplicatesRemoved > 0 {
		fmt.Printf("Adjudicated removals:  %d\n", rep.AdjudicatedDuplicatesRemoved)
	}
	fmt.Printf("Unique records:        %d (%.1f%% removed)\n", rep.FinalUniqueRecords, rep.DeduplicationRate*100)
	if rep.BorderlinePairs > 0 {
		fmt.Printf("Borderline pairs:      %d -> run `litrev adjudicate --pairs %s`\n",
			rep.BorderlinePairs, filepath.Join(out, dedup.BorderlineFile))
	}
	return nil
}

// recordDedupRun writes the run to the audit trail and the run table.
// The run table is best effort.
func recordDedupRun(ctx context.Context, rep dedup.Report, elapsed time.Duration) {
	logging.AuditWithRun(rep.RunID, logging.CategoryDedup).
		DedupRun(rep.Sources, rep.TotalOriginal, rep.FinalUniqueRecords, elapsed.Milliseconds())

	st, err := openStore()
	if err != nil {
		logger.Warn("Run table unavailable", zap.Error(err))
		return
	}
	defer st.Close()
	if err := st.StartRun(ctx, store.Run{ID: rep.RunID, Kind: "dedup", StartedAt: time.Now().Add(-elapsed)}); err != nil {
		logger.Warn("Failed to record dedup run", zap.Error(err))
		return
	}
	if err := st.FinishRun(ctx, rep.RunID, store.StatusCompleted, rep.FinalUniqueRecords); err != nil {
		logger.Warn("Failed to finish dedup run", zap.Error(err))
	}
}

func runAdjudicate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := adjudicate.ReviewFile(ctx, adjudicatePairs, adjudicateOut)
	if err != nil {
		return err
	}
	status := "partial"
	if res.Complete {
		status = "complete"
	}
	fmt.Printf("Reviewed %d of %d pairs (%s). Saved to %s\n", res.Reviewed, res.Total, status, adjudicateOut)
	if res.Complete {
		fmt.Printf("Apply with: litrev dedup --adjudicate %s\n", adjudicateOut)
	}
	return nil
}
