package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litreview/internal/codebook"
	"litreview/internal/qa"
)

// errGatesFailed makes the process exit non-zero after the report is written.
var errGatesFailed = errors.New("quality gates failed")

var (
	templateOut string

	validateInput   string
	validateParquet string

	qaInput     string
	qaMaxEffect float64
	qaMinSample int
	qaReport    string
)

var codebookCmd = &cobra.Command{
	Use:   "codebook",
	Short: "Effect-size coding sheet tools",
}

var codebookTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write a blank coding sheet and the value dictionary",
	RunE:  runCodebookTemplate,
}

var codebookValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a coding sheet against the codebook",
	Long: `Checks every row of a coded effect-size sheet: required columns, numeric
and integer fields, enumerations, and es_id uniqueness. NA, 999, 998 and 997
are accepted as missing-value codes.

With --parquet, a sheet that passes is also exported as snappy parquet.`,
	RunE: runCodebookValidate,
}

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Run the quality gates over a coded sheet",
	Long: `Runs six gates: effect-size plausibility, minimum sample size, design
validity, outcome type, data completeness and duplicates. Writes a JSON
report and exits non-zero when any gate fails.`,
	RunE: runQA,
}

func init() {
	codebookTemplateCmd.Flags().StringVarP(&templateOut, "out", "o", ".", "Output directory")

	codebookValidateCmd.Flags().StringVarP(&validateInput, "input", "i", "effect_sizes.csv", "Coded sheet (CSV)")
	codebookValidateCmd.Flags().StringVar(&validateParquet, "parquet", "", "Export a valid sheet to this parquet file")

	codebookCmd.AddCommand(codebookTemplateCmd)
	codebookCmd.AddCommand(codebookValidateCmd)

	qaCmd.Flags().StringVarP(&qaInput, "input", "i", "effect_sizes.csv", "Coded sheet (CSV)")
	qaCmd.Flags().Float64Var(&qaMaxEffect, "max-effect", 0, "Largest plausible |g| (default: config)")
	qaCmd.Flags().IntVar(&qaMinSample, "min-sample", 0, "Smallest group size (default: config)")
	qaCmd.Flags().StringVar(&qaReport, "report", "", "Report path (default: qa_report.json next to the sheet)")
}

func runCodebookTemplate(cmd *cobra.Command, args []string) error {
	if err := codebook.WriteTemplateDir(templateOut); err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s to %s\n", codebook.TemplateFile, codebook.CodesFile, templateOut)
	return nil
}

func runCodebookValidate(cmd *cobra.Command, args []string) error {
	rows, err := codebook.ReadSheetFile(validateInput)
	if err != nil {
		return err
	}
	issues := codebook.Validate(rows)
	for _, is := range issues {
		fmt.Println(is)
	}
	if len(issues) > 0 {
		return fmt.Errorf("%s: %d issues in %d rows", validateInput, len(issues), len(rows))
	}
	fmt.Printf("%s: %d rows OK\n", validateInput, len(rows))

	if validateParquet != "" {
		if err := codebook.ExportParquet(validateParquet, rows); err != nil {
			return err
		}
		logger.Info("Parquet exported", zap.String("path", validateParquet), zap.Int("rows", len(rows)))
		fmt.Printf("Exported %d rows to %s\n", len(rows), validateParquet)
	}
	return nil
}

func runQA(cmd *cobra.Command, args []string) error {
	rows, err := codebook.ReadSheetFile(qaInput)
	if err != nil {
		return err
	}

	opts := qa.Options{MaxEffectSize: cfg.QA.MaxEffectSize, MinSample: cfg.QA.MinSample}
	if qaMaxEffect > 0 {
		opts.MaxEffectSize = qaMaxEffect
	}
	if qaMinSample > 0 {
		opts.MinSample = qaMinSample
	}
	rep := qa.Run(rows, opts)

	out := qaReport
	if out == "" {
		out = filepath.Join(filepath.Dir(qaInput), "qa_report.json")
	}
	if err := qa.WriteReport(out, rep); err != nil {
		return err
	}

	fmt.Printf("%d effect sizes from %d studies\n", rep.EffectSizes, rep.Studies)
	for _, g := range rep.Gates {
		status := "PASSED"
		if !g.Passed {
			status = fmt.Sprintf("FAILED (%d flagged)", g.Flagged)
		}
		fmt.Printf("  %-16s %s\n", g.Gate, status)
	}
	for _, f := range rep.Flags {
		fmt.Printf("    line %d %s [%s]: %s\n", f.Line, f.ESID, f.Gate, f.Message)
	}
	fmt.Printf("Report -> %s\n", out)

	if !rep.AllPassed {
		return fmt.Errorf("%w: %v", errGatesFailed, rep.Failed)
	}
	return nil
}
