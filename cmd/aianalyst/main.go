package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/config"
	"github.com/TobiSchelling/AIAnalyst/internal/database"
	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/logging"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/pipeline"
	"github.com/TobiSchelling/AIAnalyst/internal/prompt"
	"github.com/TobiSchelling/AIAnalyst/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aianalyst",
	Short:   "Persona-driven AI data analysis",
	Long:    "AIAnalyst splits a dataset into chunks, has a team of AI personas analyse each chunk, reviews their work and exports a report.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		switch {
		case err == nil:
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		case configPath == "":
			cfg = config.Default()
		default:
			return err
		}

		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		if path == "" {
			logger.Debug("No config file found, using built-in defaults")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(personasCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aianalyst", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/aianalyst/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the project, problem statement, personas and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored runs and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		version, err := db.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Printf("Database: %s (schema v%d)\n\n", db.Path(), version)
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Complete: %d\n", stats.CompleteRuns)
		fmt.Printf("  Partial: %d\n", stats.PartialRuns)
		fmt.Printf("  Cancelled: %d\n", stats.CancelledRuns)
		fmt.Println("\nOutput:")
		fmt.Printf("  Persona results: %d\n", stats.Results)
		fmt.Printf("  Incomplete units: %d\n", stats.Failures)
		fmt.Printf("  Exported files: %d\n", stats.Exports)
		fmt.Printf("  Feedback ratings: %d\n", stats.Feedback)
		fmt.Println("\nAnalysis:")
		fmt.Printf("  Personas: %s (reviewer: %s, %s)\n", strings.Join(cfg.Analysis.Personas, ", "), cfg.Analysis.Reviewer, cfg.Analysis.ReviewMode)
		fmt.Printf("  LLM provider: %s\n", cfg.LLM.Provider)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server to browse reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- personas command ---

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List registered personas and their prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, templates, err := pipeline.Registries(cfg, nil)
		if err != nil {
			return err
		}

		active := make(map[string]bool)
		for _, id := range cfg.Analysis.Personas {
			active[id] = true
		}

		fmt.Println("Personas:")
		for _, id := range reg.IDs() {
			p, _ := reg.Get(id)
			icon := " "
			if active[id] {
				icon = "*"
			}
			fmt.Printf("  %s %-12s %-20s %s\n", icon, id, p.Title(), templateKey(p))
		}
		if rv, err := reg.Reviewer(cfg.Analysis.Reviewer); err == nil {
			fmt.Printf("\nReviewer:\n    %-12s %-20s %s\n", rv.ID(), rv.Title(), templateKey(rv))
		}
		fmt.Printf("\nTemplates: %s\n", strings.Join(templates.Keys(), ", "))
		fmt.Printf("Custom persona variables: %s\n", strings.Join(prompt.PersonaVars(), ", "))
		return nil
	},
}

func templateKey(v any) string {
	if t, ok := v.(persona.Versioned); ok {
		return t.TemplateKey()
	}
	return ""
}

func openDB() (*database.DB, error) {
	return database.OpenInDir(cfg.GetDataDir())
}

func createProvider() llm.Provider {
	l := cfg.LLM
	p := llm.CreateProvider(llm.Settings{
		Provider:        l.Provider,
		GeminiModel:     l.GeminiModel,
		GeminiAPIKeyEnv: l.GeminiAPIKeyEnv,
		Model:           l.Model,
		OllamaURL:       l.OllamaURL,
		OpenAIModel:     l.OpenAIModel,
		APIKeyEnv:       l.APIKeyEnv,
	})
	if p == nil {
		return nil
	}
	return llm.NewRateLimited(p, l.RequestsPerMinute)
}
