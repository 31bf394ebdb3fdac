package pipeline

import (
	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/chunk"
	"github.com/TobiSchelling/AIAnalyst/internal/compose"
	"github.com/TobiSchelling/AIAnalyst/internal/config"
	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/prompt"
)

// Registries builds the prompt and persona registries described by cfg.
func Registries(cfg *config.Config, provider llm.Provider) (*persona.Registry, *prompt.Registry, error) {
	templates, err := prompt.Builtin()
	if err != nil {
		return nil, nil, err
	}
	custom := make([]persona.Custom, 0, len(cfg.Analysis.CustomPersonas))
	for _, cp := range cfg.Analysis.CustomPersonas {
		custom = append(custom, persona.Custom{ID: cp.ID, Title: cp.Title, Template: cp.Template})
	}
	reg, err := persona.Builtin(templates, provider, generation(cfg), custom)
	if err != nil {
		return nil, nil, err
	}
	return reg, templates, nil
}

// FromConfig builds a Pipeline from configuration and a provider.
func FromConfig(cfg *config.Config, provider llm.Provider, log *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg, templates, err := Registries(cfg, provider)
	if err != nil {
		return nil, err
	}

	a := cfg.Analysis
	personas, err := reg.Resolve(a.Personas)
	if err != nil {
		return nil, err
	}
	reviewer, err := reg.Reviewer(a.Reviewer)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, p := range personas {
		if v, ok := p.(persona.Versioned); ok {
			keys = append(keys, v.TemplateKey())
		}
	}
	if v, ok := reviewer.(persona.Versioned); ok {
		keys = append(keys, v.TemplateKey())
	}

	var summarizer Summarizer
	if a.ExecutiveSummary {
		t, err := templates.Get("summary")
		if err != nil {
			return nil, err
		}
		s := compose.NewSummarizer(t, provider, generation(cfg), log)
		keys = append(keys, s.TemplateKey())
		summarizer = s
	}

	return New(Options{
		ProjectName:      a.ProjectName,
		ProblemStatement: a.ProblemStatement,
		Personas:         personas,
		Reviewer:         reviewer,
		ReviewMode:       a.ReviewMode,
		Budget:           chunk.Budget{MaxRows: a.ChunkRows, MaxTokens: a.ChunkTokens},
		Workers:          a.Workers,
		RetryLimit:       a.RetryLimit,
		InitialBackoff:   a.InitialBackoff,
		MaxBackoff:       a.MaxBackoff,
		CallTimeout:      a.CallTimeout,
		Templates:        keys,
		Summarizer:       summarizer,
		Logger:           log,
	})
}

func generation(cfg *config.Config) persona.Generation {
	return persona.Generation{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}
}
