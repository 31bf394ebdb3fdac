package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
	"github.com/TobiSchelling/AIAnalyst/internal/pipeline"
	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

var (
	runPersonas    []string
	runReviewMode  string
	runChunkRows   int
	runChunkTokens int
	runWorkers     int
	runFormats     []string
	runOutDir      string
	runDryRun      bool
)

var runCmd = &cobra.Command{
	Use:   "run <dataset.csv>",
	Short: "Analyse a dataset with the persona team and export the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := &cfg.Analysis
		flags := cmd.Flags()
		if flags.Changed("personas") {
			a.Personas = runPersonas
		}
		if flags.Changed("review-mode") {
			a.ReviewMode = runReviewMode
		}
		if flags.Changed("chunk-rows") {
			a.ChunkRows = runChunkRows
		}
		if flags.Changed("chunk-tokens") {
			a.ChunkTokens = runChunkTokens
		}
		if flags.Changed("workers") {
			a.Workers = runWorkers
		}
		if flags.Changed("format") {
			cfg.Output.ExportFormats = runFormats
		}

		formats, err := report.ParseFormats(cfg.Output.ExportFormats)
		if err != nil {
			return err
		}

		ds, err := dataset.LoadCSVFile(args[0])
		if err != nil {
			return err
		}

		provider := createProvider()
		if provider == nil && !runDryRun {
			return fmt.Errorf("no LLM provider available for %q; check the llm section of the config", cfg.LLM.Provider)
		}

		p, err := pipeline.FromConfig(cfg, provider, logger)
		if err != nil {
			return err
		}

		if runDryRun {
			plan, err := p.Plan(ds)
			if err != nil {
				return err
			}
			fmt.Printf("Dataset: %s (%d rows, %d columns)\n", ds.Name(), ds.Len(), len(ds.Columns()))
			fmt.Printf("Chunks: %d\n", len(plan.Chunks))
			for _, c := range plan.Chunks {
				fmt.Printf("  %d. rows %d-%d (~%d tokens)\n", c.Index+1, c.Start+1, c.End, c.Tokens)
			}
			fmt.Printf("Personas: %s, reviewer: %s (%s)\n", strings.Join(a.Personas, ", "), a.Reviewer, a.ReviewMode)
			fmt.Printf("LLM calls: %d\n", plan.Invocations)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Printf("Analysing %s with %s...\n", ds.Name(), strings.Join(a.Personas, ", "))
		rep, err := p.Run(ctx, ds)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}
		stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.InsertRun(rep); err != nil {
			return fmt.Errorf("storing run: %w", err)
		}

		dir := runOutDir
		if dir == "" {
			dir = filepath.Join(cfg.GetDataDir(), "reports")
		}
		paths, err := report.WriteFiles(dir, rep, formats)
		for i, path := range paths {
			if _, ierr := db.InsertExport(rep.RunID, string(formats[i]), path); ierr != nil {
				logger.Warn("Recording export failed", zap.String("path", path), zap.Error(ierr))
			}
		}
		if err != nil {
			return err
		}

		results, failures, flagged := rep.Counts()
		fmt.Printf("\nRun %s: %s\n", rep.RunID, rep.Status)
		fmt.Printf("  Results: %d, incomplete: %d, flagged by review: %d\n", results, failures, flagged)
		for _, path := range paths {
			fmt.Printf("  Wrote %s\n", path)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runPersonas, "personas", nil, "Persona sequence, comma separated (overrides config)")
	f.StringVar(&runReviewMode, "review-mode", "", "Review mode: per_chunk or whole_run")
	f.IntVar(&runChunkRows, "chunk-rows", 0, "Maximum rows per chunk")
	f.IntVar(&runChunkTokens, "chunk-tokens", 0, "Maximum estimated tokens per chunk")
	f.IntVarP(&runWorkers, "workers", "w", 0, "Chunks analysed concurrently")
	f.StringSliceVarP(&runFormats, "format", "f", nil, "Export formats: markdown, html, json, csv")
	f.StringVarP(&runOutDir, "out", "o", "", "Directory for exported reports")
	f.BoolVar(&runDryRun, "dry-run", false, "Show the chunk plan without calling the LLM")
}

// --- reports command ---

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List, show and export stored reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No reports yet. Run 'aianalyst run <dataset.csv>' first.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-20s  %-9s  %-24s %s (%d results, %d incomplete)\n",
				r.ShortID(), r.GeneratedAt, r.Status,
				r.ProjectName, r.DatasetName, r.ResultCount, r.FailureCount)
		}
		return nil
	},
}

var reportsShowFormat string

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored report (markdown by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := loadReport(args[0])
		if err != nil {
			return err
		}
		format, err := report.ParseFormat(reportsShowFormat)
		if err != nil {
			return err
		}
		data, err := report.Render(rep, format)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var (
	reportsExportFormats []string
	reportsExportDir     string
)

var reportsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Re-export a stored report to files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.FindRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("no run matches %q", args[0])
		}
		rep, err := run.Report()
		if err != nil {
			return err
		}

		names := reportsExportFormats
		if len(names) == 0 {
			names = cfg.Output.ExportFormats
		}
		formats, err := report.ParseFormats(names)
		if err != nil {
			return err
		}
		dir := reportsExportDir
		if dir == "" {
			dir = filepath.Join(cfg.GetDataDir(), "reports")
		}

		paths, err := report.WriteFiles(dir, rep, formats)
		for i, path := range paths {
			if _, ierr := db.InsertExport(rep.RunID, string(formats[i]), path); ierr != nil {
				logger.Warn("Recording export failed", zap.String("path", path), zap.Error(ierr))
			}
			fmt.Printf("Wrote %s\n", path)
		}
		return err
	},
}

func init() {
	reportsShowCmd.Flags().StringVarP(&reportsShowFormat, "format", "f", "markdown", "Output format")
	reportsExportCmd.Flags().StringSliceVarP(&reportsExportFormats, "format", "f", nil, "Export formats (default from config)")
	reportsExportCmd.Flags().StringVarP(&reportsExportDir, "out", "o", "", "Output directory")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsExportCmd)
}

func loadReport(id string) (*report.Report, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	run, err := db.FindRun(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("no run matches %q", id)
	}
	return run.Report()
}
