package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litreview/internal/bib"
	"litreview/internal/llm"
	"litreview/internal/logging"
	"litreview/internal/screening"
	"litreview/internal/usage"
)

var (
	screenInput     string
	screenFramework string
	screenLimit     int
	screenWorkers   int
	screenModel     string
	screenProvider  string
	screenOutDir    string
	screenResume    bool

	sampleDecisions string
	sampleRate      float64
	sampleSeed      int64
	sampleOut       string

	icrSheet  string
	icrTarget float64
	icrReport string
)

// errKappaBelowTarget makes screen icr exit non-zero after the report is written.
var errKappaBelowTarget = errors.New("inter-coder reliability below target")

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen titles and abstracts with an LLM",
	Long: `Sends each record's title and abstract to the configured model with the
PICOS or PCC screening prompt and records INCLUDE, EXCLUDE or UNCERTAIN.

Decisions stream to screening_decisions.jsonl as they complete. The CSV and
summary are written at the end. Ctrl-C stops cleanly; --resume continues
from the decisions already on disk.`,
	RunE: runScreen,
}

var screenSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Draw a reproducible sample of decisions for a second screener",
	RunE:  runScreenSample,
}

var screenICRCmd = &cobra.Command{
	Use:   "icr",
	Short: "Score a completed verification sheet against the AI decisions",
	Long: `Reads the sheet written by "litrev screen sample" once the second screener
has filled in human_decision (and human_reason_code for exclusions), and
reports percent agreement and Cohen's kappa. Rows left blank are counted as
pending. Exits non-zero when kappa is below the target.`,
	RunE: runScreenICR,
}

func init() {
	screenCmd.Flags().StringVarP(&screenInput, "input", "i", "merged_deduplicated.csv", "Records to screen")
	screenCmd.Flags().StringVarP(&screenFramework, "framework", "f", "", "picos or pcc (default: config)")
	screenCmd.Flags().IntVar(&screenLimit, "limit", 0, "Screen at most N new records")
	screenCmd.Flags().IntVar(&screenWorkers, "workers", 0, "Concurrent requests (default: config)")
	screenCmd.Flags().StringVar(&screenModel, "model", "", "Model override")
	screenCmd.Flags().StringVar(&screenProvider, "provider", "", "Provider override (anthropic, openai, gemini)")
	screenCmd.Flags().StringVarP(&screenOutDir, "out", "o", "", "Output directory (default: config)")
	screenCmd.Flags().BoolVar(&screenResume, "resume", false, "Skip studies with a successful decision")

	screenSampleCmd.Flags().StringVar(&sampleDecisions, "decisions", filepath.Join("screening", screening.DecisionsFile), "Decisions JSONL")
	screenSampleCmd.Flags().Float64Var(&sampleRate, "rate", 0, "Sampling rate (default: config)")
	screenSampleCmd.Flags().Int64Var(&sampleSeed, "seed", 0, "Random seed (default: config)")
	screenSampleCmd.Flags().StringVarP(&sampleOut, "out", "o", "", "Output CSV (default: next to the decisions)")

	screenICRCmd.Flags().StringVar(&icrSheet, "sheet", filepath.Join("screening", screening.SampleFile), "Completed verification sheet")
	screenICRCmd.Flags().Float64Var(&icrTarget, "target", 0, "Kappa target (default: config)")
	screenICRCmd.Flags().StringVar(&icrReport, "report", "", "Report path (default: icr_report.json next to the sheet)")

	screenCmd.AddCommand(screenSampleCmd)
	screenCmd.AddCommand(screenICRCmd)
}

func screenFrameworkFlag() (screening.Framework, error) {
	name := screenFramework
	if name == "" {
		name = cfg.Screening.Framework
	}
	return screening.ParseFramework(name)
}

func runScreen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	framework, err := screenFrameworkFlag()
	if err != nil {
		return err
	}
	if err := cfg.UseProvider(screenProvider, screenModel); err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	records, err := bib.ReadFile(screenInput, "", nil)
	if err != nil {
		return fmt.Errorf("load %s: %w", screenInput, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no records in %s", screenInput)
	}

	ws, err := workspaceDir()
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(ws)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("Failed to save usage", zap.Error(err))
		}
	}()
	ctx = usage.NewContext(ctx, tracker)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// The screener paces requests itself.
	lc := llm.ConfigFrom(cfg)
	lc.RequestsPerSecond = 0
	base, err := llm.New(ctx, lc)
	if err != nil {
		return err
	}
	client := llm.NewTrackingClient(base, tracker, logging.Audit(), "screening")

	out := screenOutDir
	if out == "" {
		out = cfg.Screening.OutputDir
	}
	workers := screenWorkers
	if workers <= 0 {
		workers = cfg.Screening.Workers
	}

	runID := uuid.NewString()
	logger.Info("Screening",
		zap.String("run", runID),
		zap.String("framework", string(framework)),
		zap.String("provider", client.Provider()),
		zap.String("model", client.Model()),
		zap.Int("records", len(records)),
		zap.Int("workers", workers))

	scr := screening.NewScreener(client, framework, st)
	res, err := scr.Run(ctx, records, screening.Options{
		OutputDir:         out,
		Limit:             screenLimit,
		Resume:            screenResume,
		Workers:           workers,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		RunID:             runID,
	})
	if res != nil {
		printScreenSummary(res, out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Interrupted. Re-run with --resume to continue.")
		}
		return err
	}
	return nil
}

func printScreenSummary(res *screening.RunResult, out string) {
	s := res.Summary
	fmt.Printf("Screened this run:  %d (skipped %d)\n", res.Screened, res.Skipped)
	fmt.Printf("Total decisions:    %d\n", s.TotalScreened)
	fmt.Printf("  INCLUDE:          %d (%.1f%%)\n", s.Include, s.InclusionRate*100)
	fmt.Printf("  EXCLUDE:          %d\n", s.Exclude)
	fmt.Printf("  UNCERTAIN:        %d\n", s.Uncertain)
	if s.Failed > 0 {
		fmt.Printf("  failed calls:     %d (retried on --resume)\n", s.Failed)
	}
	if len(s.ReasonCodes) > 0 {
		codes := make([]string, 0, len(s.ReasonCodes))
		for c := range s.ReasonCodes {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		fmt.Println("Exclusion reasons:")
		for _, c := range codes {
			fmt.Printf("  %-6s %d\n", c, s.ReasonCodes[c])
		}
	}
	if s.PriorityCandidates != nil {
		fmt.Printf("Priority candidates: %d\n", *s.PriorityCandidates)
	}
	fmt.Printf("Outputs in %s\n", out)
}

func runScreenSample(cmd *cobra.Command, args []string) error {
	decisions, err := screening.ReadDecisions(sampleDecisions)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		return fmt.Errorf("no decisions in %s", sampleDecisions)
	}

	rate := sampleRate
	if rate <= 0 {
		rate = cfg.Screening.SampleRate
	}
	seed := sampleSeed
	if !cmd.Flags().Changed("seed") {
		seed = cfg.Screening.SampleSeed
	}
	out := sampleOut
	if out == "" {
		out = filepath.Join(filepath.Dir(sampleDecisions), screening.SampleFile)
	}

	sample := screening.Sample(decisions, rate, seed)
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := screening.WriteSampleCSV(f, sample); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Sampled %d of %d decisions (rate %.2f, seed %d) -> %s\n", len(sample), len(decisions), rate, seed, out)
	return nil
}

func runScreenICR(cmd *cobra.Command, args []string) error {
	rows, err := screening.ReadICRSheetFile(icrSheet)
	if err != nil {
		return err
	}
	target := icrTarget
	if target <= 0 {
		target = cfg.Screening.KappaTarget
	}
	rep, err := screening.Reliability(rows, target)
	if errors.Is(err, screening.ErrNoCodedRows) {
		return fmt.Errorf("%s: %w (%d rows pending)", icrSheet, err, rep.Pending)
	}
	if err != nil {
		return err
	}

	out := icrReport
	if out == "" {
		out = filepath.Join(filepath.Dir(icrSheet), screening.ICRReportFile)
	}
	if err := screening.WriteICRReport(out, rep); err != nil {
		return err
	}

	fmt.Printf("Coded %d of %d studies (%d pending)\n", rep.Coded, rep.Rows, rep.Pending)
	fmt.Printf("  decision     agreement %.1f%%  kappa %.3f\n", rep.Decision.PercentAgreement*100, rep.Decision.Kappa)
	if rep.ReasonCode != nil {
		fmt.Printf("  reason code  agreement %.1f%%  kappa %.3f (%d exclusions)\n",
			rep.ReasonCode.PercentAgreement*100, rep.ReasonCode.Kappa, rep.ReasonCode.Pairs)
	}
	for _, d := range rep.Disagreements {
		fmt.Printf("    %s: AI %s, human %s\n", d.StudyID, d.AI, d.Human)
	}
	fmt.Printf("Report -> %s\n", out)
	logger.Info("ICR scored", zap.Int("coded", rep.Coded), zap.Float64("kappa", rep.Decision.Kappa), zap.Bool("passed", rep.Passed))

	if !rep.Passed {
		return fmt.Errorf("%w: kappa %.3f < %.2f", errKappaBelowTarget, rep.Decision.Kappa, target)
	}
	return nil
}
