package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Review modes.
const (
	ReviewPerChunk = "per_chunk"
	ReviewWholeRun = "whole_run"
)

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Analysis Analysis `yaml:"analysis"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type LLM struct {
	Provider          string  `yaml:"provider"`
	GeminiModel       string  `yaml:"gemini_model"`
	GeminiAPIKeyEnv   string  `yaml:"gemini_api_key_env"`
	Model             string  `yaml:"model"`
	OllamaURL         string  `yaml:"ollama_url"`
	OpenAIModel       string  `yaml:"openai_model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

type Analysis struct {
	ProjectName      string          `yaml:"project_name"`
	ProblemStatement string          `yaml:"problem_statement"`
	Personas         []string        `yaml:"personas"`
	Reviewer         string          `yaml:"reviewer"`
	ReviewMode       string          `yaml:"review_mode"`
	ChunkRows        int             `yaml:"chunk_rows"`
	ChunkTokens      int             `yaml:"chunk_tokens"`
	Workers          int             `yaml:"workers"`
	RetryLimit       int             `yaml:"retry_limit"`
	InitialBackoff   time.Duration   `yaml:"initial_backoff"`
	MaxBackoff       time.Duration   `yaml:"max_backoff"`
	CallTimeout      time.Duration   `yaml:"call_timeout"`
	ExecutiveSummary bool            `yaml:"executive_summary"`
	CustomPersonas   []CustomPersona `yaml:"custom_personas"`
}

// CustomPersona defines an additional persona backed by a user-supplied prompt template.
type CustomPersona struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Template string `yaml:"template"`
}

type Output struct {
	DataDir       string   `yaml:"data_dir"`
	ExportFormats []string `yaml:"export_formats"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for aianalyst.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "aianalyst")
}

// DataDir returns the XDG data directory for aianalyst.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "aianalyst")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/aianalyst/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'aianalyst init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Provider:        "gemini",
			GeminiModel:     "gemini-1.5-flash-latest",
			GeminiAPIKeyEnv: "GEMINI_API_KEY",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxTokens:       1024,
			Temperature:     0.2,
		},
		Analysis: Analysis{
			ProjectName:      "Data Analysis",
			Personas:         []string{"manager", "analyst", "associate"},
			Reviewer:         "reviewer",
			ReviewMode:       ReviewPerChunk,
			ChunkRows:        200,
			ChunkTokens:      6000,
			Workers:          4,
			RetryLimit:       3,
			InitialBackoff:   2 * time.Second,
			MaxBackoff:       30 * time.Second,
			CallTimeout:      120 * time.Second,
			ExecutiveSummary: true,
		},
		Output:  Output{ExportFormats: []string{"markdown", "html", "csv"}},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks the analysis options that the pipeline cannot run without.
func (c *Config) Validate() error {
	a := c.Analysis
	if len(a.Personas) == 0 {
		return fmt.Errorf("analysis.personas must list at least one persona")
	}
	seen := make(map[string]struct{}, len(a.Personas))
	for _, id := range a.Personas {
		if id == a.Reviewer {
			return fmt.Errorf("analysis.personas must not contain the reviewer %q; it always runs last", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("analysis.personas lists %q twice", id)
		}
		seen[id] = struct{}{}
	}
	if a.Reviewer == "" {
		return fmt.Errorf("analysis.reviewer must be set")
	}
	if a.ReviewMode != ReviewPerChunk && a.ReviewMode != ReviewWholeRun {
		return fmt.Errorf("analysis.review_mode must be %q or %q, got %q", ReviewPerChunk, ReviewWholeRun, a.ReviewMode)
	}
	if a.ChunkRows <= 0 && a.ChunkTokens <= 0 {
		return fmt.Errorf("analysis.chunk_rows or analysis.chunk_tokens must be positive")
	}
	if a.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be positive")
	}
	if a.RetryLimit <= 0 {
		return fmt.Errorf("analysis.retry_limit must be positive")
	}
	for _, cp := range a.CustomPersonas {
		if strings.TrimSpace(cp.ID) == "" || strings.TrimSpace(cp.Template) == "" {
			return fmt.Errorf("custom persona needs both id and template")
		}
	}
	if len(c.Output.ExportFormats) == 0 {
		return fmt.Errorf("output.export_formats must list at least one format")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
