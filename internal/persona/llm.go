package persona

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/prompt"
)

const maxFindings = 20

var (
	validSeverities = map[string]bool{"low": true, "medium": true, "high": true}
	validKinds      = map[string]bool{
		"anomaly": true, "quality_issue": true, "pattern": true,
		"hypothesis": true, "recommendation": true, "plan": true, "observation": true,
	}
)

// Generation holds the sampling settings passed to the provider.
type Generation struct {
	MaxTokens   int
	Temperature float64
}

// TemplatePersona is a persona whose behaviour is a prompt template rendered
// against the chunk and sent to an LLM provider.
type TemplatePersona struct {
	id       string
	title    string
	template *prompt.Template
	provider llm.Provider
	gen      Generation
}

// NewTemplatePersona builds a persona from a prompt template.
func NewTemplatePersona(id, title string, t *prompt.Template, provider llm.Provider, gen Generation) *TemplatePersona {
	return &TemplatePersona{id: id, title: title, template: t, provider: provider, gen: gen}
}

func (p *TemplatePersona) ID() string          { return p.id }
func (p *TemplatePersona) Title() string       { return p.title }
func (p *TemplatePersona) TemplateKey() string { return p.template.Key() }

// Produce renders the prompt for in and parses the model's answer. Provider
// errors are returned unwrapped so callers can classify them.
func (p *TemplatePersona) Produce(ctx context.Context, in Input) (Result, error) {
	if p.provider == nil {
		return Result{}, fmt.Errorf("persona %s: no LLM provider available", p.id)
	}

	text, err := p.template.Render(Vars(in))
	if err != nil {
		return Result{}, err
	}

	resp, err := p.provider.Generate(ctx, llm.Request{
		Prompt:      text,
		MaxTokens:   p.gen.MaxTokens,
		Temperature: p.gen.Temperature,
	})
	if err != nil {
		return Result{}, err
	}
	return parseResult(p.id, in.Chunk.Index, resp), nil
}

// Vars builds the template variables for a persona invocation.
func Vars(in Input) map[string]string {
	return map[string]string{
		"project_name":      in.Context.ProjectName,
		"problem_statement": orDefault(in.Context.ProblemStatement, "Not provided."),
		"dataset":           fmt.Sprintf("%s (%d rows, %d columns)", in.Context.Dataset.Name, in.Context.Dataset.Rows, len(in.Context.Dataset.Columns)),
		"schema":            strings.Join(in.Context.Dataset.Schema(), ", "),
		"chunk":             in.Chunk.Text(),
		"chunk_label":       chunkLabel(in),
		"prior":             formatPrior(in.Prior),
	}
}

func chunkLabel(in Input) string {
	total := in.ChunkCount
	if total < in.Chunk.Index+1 {
		total = in.Chunk.Index + 1
	}
	return fmt.Sprintf("chunk %d of %d (rows %d-%d)", in.Chunk.Index+1, total, in.Chunk.Start+1, in.Chunk.End)
}

func formatPrior(prior []Result) string {
	if len(prior) == 0 {
		return "None yet."
	}
	var parts []string
	for _, r := range prior {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s]\n%s", r.Persona, strings.TrimSpace(r.Narrative))
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "\n- %s", formatFinding(f))
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

func formatFinding(f Finding) string {
	if f.Column != "" {
		return fmt.Sprintf("(%s, %s) %s: %s", f.Kind, f.Severity, f.Column, f.Detail)
	}
	return fmt.Sprintf("(%s, %s) %s", f.Kind, f.Severity, f.Detail)
}

type resultPayload struct {
	Narrative      string          `json:"narrative"`
	Findings       []Finding       `json:"findings"`
	Visualizations []Visualization `json:"visualizations"`
}

// parseResult turns a model response into a Result. A response that is not
// the expected JSON becomes a narrative-only result.
func parseResult(personaID string, chunkIndex int, resp string) Result {
	r := Result{Persona: personaID, ChunkIndex: chunkIndex}

	var payload resultPayload
	if err := llm.DecodeJSONResponse(resp, &payload); err != nil || strings.TrimSpace(payload.Narrative) == "" && len(payload.Findings) == 0 {
		zap.L().Debug("persona response was not structured; keeping it as narrative",
			zap.String("persona", personaID), zap.Int("chunk", chunkIndex+1))
		r.Narrative = strings.TrimSpace(resp)
		return r
	}

	r.Narrative = strings.TrimSpace(payload.Narrative)
	for _, f := range payload.Findings {
		f.Detail = strings.TrimSpace(f.Detail)
		if f.Detail == "" {
			continue
		}
		f.Kind = strings.ToLower(strings.TrimSpace(f.Kind))
		if !validKinds[f.Kind] {
			f.Kind = "observation"
		}
		f.Severity = strings.ToLower(strings.TrimSpace(f.Severity))
		if !validSeverities[f.Severity] {
			f.Severity = "medium"
		}
		f.Column = strings.TrimSpace(f.Column)
		r.Findings = append(r.Findings, f)
		if len(r.Findings) == maxFindings {
			break
		}
	}
	for _, v := range payload.Visualizations {
		v.Chart = strings.ToLower(strings.TrimSpace(v.Chart))
		v.Title = strings.TrimSpace(v.Title)
		if v.Chart == "" || v.Title == "" {
			continue
		}
		r.Visualizations = append(r.Visualizations, v)
	}
	return r
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
