package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"litreview/internal/config"
	"litreview/internal/logging"
	"litreview/internal/store"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "litrev",
	Short: "litrev - systematic review pipeline",
	Long: `litrev runs the mechanical steps of a systematic or scoping review:

  dedup       merge database exports and remove duplicate records
  adjudicate  review borderline duplicate pairs by hand
  screen      title/abstract screening with an LLM
  prisma      draw the PRISMA 2020 or PRISMA-ScR flow diagram
  codebook    effect-size sheet template, validation and export
  qa          quality gates over a coded sheet
  publish     archive outputs to an S3-compatible bucket`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/litrev.yaml)")

	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(adjudicateCmd)
	rootCmd.AddCommand(screenCmd)
	rootCmd.AddCommand(prismaCmd)
	rootCmd.AddCommand(codebookCmd)
	rootCmd.AddCommand(qaCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(publishCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// execute runs the command tree and closes the logs afterwards. Cobra skips
// PersistentPostRun when a command fails, so this cannot live there.
func execute(ctx context.Context) error {
	defer shutdown()
	return rootCmd.ExecuteContext(ctx)
}

func shutdown() {
	if logger != nil {
		_ = logger.Sync()
	}
	logging.CloseAudit()
	logging.CloseAll()
}

// setup builds the process logger, loads the config and opens the
// categorized logs and audit trail for the workspace.
func setup(cmd *cobra.Command, args []string) error {
	zc := zap.NewProductionConfig()
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	var err error
	logger, err = zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ws, err := workspaceDir()
	if err != nil {
		return err
	}
	path := configPath
	if path == "" {
		path = filepath.Join(ws, config.DefaultPath)
	}
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(ws, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	if err := logging.InitAudit(auditPath(ws)); err != nil {
		logger.Warn("Audit trail unavailable", zap.Error(err))
	}
	logging.Audit().ConfigLoaded(path, cfg.LLM.Provider, cfg.LLM.Model)
	logger.Debug("Config loaded",
		zap.String("path", path),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))
	return nil
}

func workspaceDir() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

func auditPath(ws string) string {
	return filepath.Join(ws, ".litrev", "audit.jsonl")
}

// openStore opens the decision database named in the config, relative to
// the workspace.
func openStore() (*store.Store, error) {
	ws, err := workspaceDir()
	if err != nil {
		return nil, err
	}
	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws, path)
	}
	return store.Open(path)
}
