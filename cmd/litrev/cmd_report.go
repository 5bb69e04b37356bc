package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litreview/internal/logging"
	"litreview/internal/publish"
	"litreview/internal/usage"
)

var (
	usageCSV  string
	usageJSON string

	runsKind string

	auditTarget string

	publishDir  string
	publishName string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and cost per model",
	RunE:  runUsage,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List dedup and screening runs",
	RunE:  runRuns,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Summarize the audit trail",
	RunE:  runAudit,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload an output directory to the configured bucket",
	Long: `Uploads every file under --dir to <bucket>/<prefix>/<name>/ on the
S3-compatible store in the publish section of litrev.yaml, followed by a
manifest.json listing what was uploaded.`,
	RunE: runPublish,
}

func init() {
	usageCmd.Flags().StringVar(&usageCSV, "csv", "", "Also export the summary as CSV")
	usageCmd.Flags().StringVar(&usageJSON, "json", "", "Also export the summary as JSON")

	runsCmd.Flags().StringVar(&runsKind, "kind", "", "Only runs of this kind (screen, dedup)")

	auditCmd.Flags().StringVar(&auditTarget, "target", "", "Show the event timeline for one study or object")

	publishCmd.Flags().StringVarP(&publishDir, "dir", "d", "", "Directory to upload (required)")
	publishCmd.Flags().StringVar(&publishName, "name", "", "Folder name under the prefix (default: timestamp)")
	_ = publishCmd.MarkFlagRequired("dir")
}

func runUsage(cmd *cobra.Command, args []string) error {
	ws, err := workspaceDir()
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(ws)
	if err != nil {
		return err
	}

	rows := tracker.Summary()
	if len(rows) <= 1 {
		fmt.Println("No LLM usage recorded yet.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tCALLS\tINPUT\tOUTPUT\tCOST (USD)")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.Model, r.TotalCalls, r.InputTokens, r.OutputTokens, r.TotalCost.StringFixed(4))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	export := func(path string, write func(f *os.File) error) error {
		if path == "" {
			return nil
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := write(f); err != nil {
			f.Close()
			return err
		}
		fmt.Printf("Exported -> %s\n", path)
		return f.Close()
	}
	if err := export(usageCSV, func(f *os.File) error { return tracker.WriteCSV(f) }); err != nil {
		return err
	}
	return export(usageJSON, func(f *os.File) error { return tracker.WriteJSON(f) })
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, runsKind)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tKIND\tFRAMEWORK\tMODEL\tSTARTED\tSTATUS\tTOTAL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.Kind, r.Framework, r.Model, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Total)
	}
	return w.Flush()
}

func runAudit(cmd *cobra.Command, args []string) error {
	ws, err := workspaceDir()
	if err != nil {
		return err
	}
	path := auditPath(ws)

	if auditTarget != "" {
		events, err := logging.ReadAudit(path)
		if err != nil {
			return err
		}
		for _, e := range logging.Timeline(events, auditTarget) {
			fmt.Printf("%s  %-20s %s\n", time.UnixMilli(e.Timestamp).Local().Format("2006-01-02 15:04:05"), e.EventType, e.Message)
		}
		return nil
	}

	sum, err := logging.SummarizeFile(path)
	if errors.Is(err, logging.ErrNoAudit) {
		fmt.Println("No audit trail yet.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Events: %d  Errors: %d  Runs: %d\n", sum.TotalEvents, sum.Errors, len(sum.Runs))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tCOUNT")
	for _, k := range sortedKeys(sum.TypeCounts) {
		fmt.Fprintf(w, "%s\t%d\n", k, sum.TypeCounts[k])
	}
	if len(sum.ModelUsage) > 0 {
		fmt.Fprintln(w, "\t")
		fmt.Fprintln(w, "MODEL\tCALLS")
		for _, k := range sortedKeys(sum.ModelUsage) {
			fmt.Fprintf(w, "%s\t%d\n", k, sum.ModelUsage[k])
		}
	}
	return w.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.PublishEnabled() {
		return publish.ErrNotConfigured
	}
	p, err := publish.New(cfg.Publish)
	if err != nil {
		return err
	}
	m, err := p.Dir(ctx, publishDir, publishName)
	if err != nil {
		return err
	}
	logger.Info("Published", zap.String("bucket", m.Bucket), zap.String("prefix", m.Prefix), zap.Int("objects", len(m.Objects)))
	fmt.Printf("Uploaded %d files to %s/%s\n", len(m.Objects), m.Bucket, m.Prefix)
	return nil
}
