package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litreview/internal/dedup"
	"litreview/internal/prisma"
	"litreview/internal/screening"
)

var (
	prismaCounts string
	prismaKind   string
	prismaFormat string
	prismaOut    string

	countsDedupReport string
	countsSummary     string
	countsOut         string
)

var prismaCmd = &cobra.Command{
	Use:   "prisma",
	Short: "Draw a PRISMA flow diagram from stage counts",
	Long: `Renders the PRISMA 2020 (--kind 2020) or PRISMA-ScR (--kind scr) flow
diagram as SVG or Graphviz DOT. Counts that do not add up are reported as
warnings; the diagram is still drawn.

Use "litrev prisma counts" to start a counts file from the dedup report and
screening summary.`,
	RunE: runPrisma,
}

var prismaCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Pre-fill a counts file from dedup and screening outputs",
	RunE:  runPrismaCounts,
}

func init() {
	prismaCmd.Flags().StringVar(&prismaCounts, "counts", "prisma_counts.json", "Counts JSON")
	prismaCmd.Flags().StringVar(&prismaKind, "kind", "2020", "Diagram kind: 2020 or scr")
	prismaCmd.Flags().StringVar(&prismaFormat, "format", "svg", "Output format: svg or dot")
	prismaCmd.Flags().StringVarP(&prismaOut, "out", "o", "", "Output file (default: prisma_flow.<format>)")

	prismaCountsCmd.Flags().StringVar(&countsDedupReport, "dedup-report", "", "dedup_report.json")
	prismaCountsCmd.Flags().StringVar(&countsSummary, "screening-summary", "", "screening_summary.json")
	prismaCountsCmd.Flags().StringVar(&prismaKind, "kind", "2020", "Diagram kind: 2020 or scr")
	prismaCountsCmd.Flags().StringVarP(&countsOut, "out", "o", "prisma_counts.json", "Output counts JSON")

	prismaCmd.AddCommand(prismaCountsCmd)
}

func runPrisma(cmd *cobra.Command, args []string) error {
	kind, err := prisma.ParseKind(prismaKind)
	if err != nil {
		return err
	}
	format, err := prisma.ParseFormat(prismaFormat)
	if err != nil {
		return err
	}
	counts, err := prisma.LoadCounts(prismaCounts, kind)
	if err != nil {
		return err
	}

	warnings := counts.Check()
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "WARNING:", w)
	}

	out := prismaOut
	if out == "" {
		out = "prisma_flow." + string(format)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := prisma.Render(f, counts.Diagram(), format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info("Diagram written", zap.String("path", out), zap.Int("warnings", len(warnings)))
	fmt.Printf("PRISMA %s diagram -> %s", kind, out)
	if len(warnings) > 0 {
		fmt.Printf(" (%d warnings)", len(warnings))
	}
	fmt.Println()
	return nil
}

func runPrismaCounts(cmd *cobra.Command, args []string) error {
	kind, err := prisma.ParseKind(prismaKind)
	if err != nil {
		return err
	}

	var rep *dedup.Report
	if countsDedupReport != "" {
		if rep, err = dedup.ReadReport(countsDedupReport); err != nil {
			return err
		}
	}
	var sum *screening.Summary
	if countsSummary != "" {
		if sum, err = screening.ReadSummary(countsSummary); err != nil {
			return err
		}
	}

	counts, err := prisma.FromReports(rep, sum, kind)
	if err != nil {
		return err
	}
	if err := prisma.WriteCounts(countsOut, counts); err != nil {
		return err
	}
	fmt.Printf("Counts -> %s (fill in the full-text stages before drawing)\n", countsOut)
	return nil
}
