// Package compose writes the executive summary that opens a report.
package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/logging"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/prompt"
	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

const (
	maxBullets       = 5
	maxPromptChars   = 12000
	narrativePreview = 300
)

var severityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Summarizer produces the executive summary bullets for a run.
type Summarizer struct {
	template *prompt.Template
	provider llm.Provider
	gen      persona.Generation
	log      *zap.Logger
}

// NewSummarizer creates a summarizer. A nil provider always uses the fallback.
func NewSummarizer(t *prompt.Template, provider llm.Provider, gen persona.Generation, log *zap.Logger) *Summarizer {
	log = logging.OrNop(log)
	return &Summarizer{template: t, provider: provider, gen: gen, log: log}
}

// TemplateKey returns the versioned key of the summary prompt.
func (s *Summarizer) TemplateKey() string { return s.template.Key() }

// Summarize returns 3-5 summary bullets. It never fails: provider errors and
// unusable responses fall back to headlines taken from the findings.
func (s *Summarizer) Summarize(ctx context.Context, meta report.Meta, results []persona.Result, critiques []persona.Critique) []string {
	if len(results) == 0 {
		return []string{"No persona produced a result for this run."}
	}
	if s.provider == nil {
		return fallbackBullets(meta, results)
	}

	verdicts := make(map[string]persona.Verdict)
	for _, c := range critiques {
		for _, it := range c.Items {
			verdicts[it.ResultID] = it.Verdict
		}
	}

	text, err := s.template.Render(map[string]string{
		"project_name":      meta.ProjectName,
		"problem_statement": meta.ProblemStatement,
		"findings":          formatFindings(results, verdicts),
	})
	if err != nil {
		s.log.Warn("rendering summary prompt failed", zap.Error(err))
		return fallbackBullets(meta, results)
	}

	resp, err := s.provider.Generate(ctx, llm.Request{Prompt: text, MaxTokens: s.gen.MaxTokens, Temperature: s.gen.Temperature})
	if err != nil || strings.TrimSpace(resp) == "" {
		s.log.Warn("executive summary generation failed; using fallback", zap.Error(err))
		return fallbackBullets(meta, results)
	}

	var payload struct {
		SummaryBullets []string `json:"summary_bullets"`
	}
	if err := llm.DecodeJSONResponse(resp, &payload); err != nil {
		s.log.Debug("summary response was not JSON; using fallback", zap.Error(err))
		return fallbackBullets(meta, results)
	}

	var bullets []string
	for _, b := range payload.SummaryBullets {
		if b = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(b), "- ")); b != "" {
			bullets = append(bullets, b)
		}
		if len(bullets) == maxBullets {
			break
		}
	}
	if len(bullets) == 0 {
		return fallbackBullets(meta, results)
	}
	return bullets
}

// truncate cuts s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func formatFindings(results []persona.Result, verdicts map[string]persona.Verdict) string {
	var b strings.Builder
	for _, r := range results {
		var part strings.Builder
		verdict := verdicts[r.ID()]
		if verdict == "" {
			verdict = "unreviewed"
		}
		fmt.Fprintf(&part, "[%s] verdict: %s\n", r.ID(), verdict)
		if n := strings.TrimSpace(r.Narrative); n != "" {
			n = truncate(n, narrativePreview)
			part.WriteString(n + "\n")
		}
		for _, f := range r.Findings {
			fmt.Fprintf(&part, "- (%s) %s\n", f.Severity, f.Detail)
		}
		part.WriteString("\n")

		if b.Len()+part.Len() > maxPromptChars {
			break
		}
		b.WriteString(part.String())
	}
	return strings.TrimSpace(b.String())
}

// fallbackBullets lists the most severe findings, or the opening sentence of
// each narrative when there are none.
func fallbackBullets(meta report.Meta, results []persona.Result) []string {
	type headline struct {
		rank, chunk int
		text        string
	}
	var heads []headline
	for _, r := range results {
		for _, f := range r.Findings {
			rank, ok := severityRank[f.Severity]
			if !ok {
				rank = len(severityRank)
			}
			heads = append(heads, headline{rank, r.ChunkIndex, fmt.Sprintf("%s (chunk %d, %s)", f.Detail, r.ChunkIndex+1, meta.Title(r.Persona))})
		}
	}
	if len(heads) == 0 {
		for _, r := range results {
			if s := firstSentence(r.Narrative); s != "" {
				heads = append(heads, headline{0, r.ChunkIndex, fmt.Sprintf("%s: %s", meta.Title(r.Persona), s)})
			}
		}
	}
	sort.SliceStable(heads, func(i, j int) bool {
		if heads[i].rank != heads[j].rank {
			return heads[i].rank < heads[j].rank
		}
		return heads[i].chunk < heads[j].chunk
	})

	var bullets []string
	for _, h := range heads {
		bullets = append(bullets, h.text)
		if len(bullets) == maxBullets {
			break
		}
	}
	if len(bullets) == 0 {
		return []string{"The personas returned no summarisable findings."}
	}
	return bullets
}

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}
