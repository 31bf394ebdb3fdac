package persona

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/prompt"
)

const (
	missingVerdictNote = "Reviewer gave no assessment for this result."
	unparsedNote       = "Reviewer response could not be parsed; result needs manual review."
)

// TemplateReviewer is the LLM-backed Reviewer.
type TemplateReviewer struct {
	id       string
	title    string
	template *prompt.Template
	provider llm.Provider
	gen      Generation
}

// NewTemplateReviewer builds a Reviewer from a prompt template.
func NewTemplateReviewer(id, title string, t *prompt.Template, provider llm.Provider, gen Generation) *TemplateReviewer {
	return &TemplateReviewer{id: id, title: title, template: t, provider: provider, gen: gen}
}

func (r *TemplateReviewer) ID() string          { return r.id }
func (r *TemplateReviewer) Title() string       { return r.title }
func (r *TemplateReviewer) TemplateKey() string { return r.template.Key() }

// Review asks the model for a verdict on every result in in. The returned
// critique always has exactly one item per result, in input order.
func (r *TemplateReviewer) Review(ctx context.Context, in ReviewInput) (Critique, error) {
	c := Critique{Reviewer: r.id, ChunkIndex: in.ChunkIndex}
	if len(in.Results) == 0 {
		return c, nil
	}
	if r.provider == nil {
		return c, fmt.Errorf("reviewer %s: no LLM provider available", r.id)
	}

	text, err := r.template.Render(map[string]string{
		"project_name":      in.Context.ProjectName,
		"problem_statement": orDefault(in.Context.ProblemStatement, "Not provided."),
		"scope":             reviewScope(in.ChunkIndex),
		"results":           formatResults(in.Results),
	})
	if err != nil {
		return c, err
	}

	resp, err := r.provider.Generate(ctx, llm.Request{
		Prompt:      text,
		MaxTokens:   r.gen.MaxTokens,
		Temperature: r.gen.Temperature,
	})
	if err != nil {
		return c, err
	}

	c.Items = parseCritique(in.Results, resp)
	return c, nil
}

func reviewScope(chunkIndex int) string {
	if chunkIndex == WholeRun {
		return "the whole dataset (all chunks)"
	}
	return fmt.Sprintf("chunk %d", chunkIndex+1)
}

func formatResults(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s]\n%s", res.ID(), strings.TrimSpace(res.Narrative))
		for _, f := range res.Findings {
			fmt.Fprintf(&b, "\n- %s", formatFinding(f))
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

type critiquePayload struct {
	Items []struct {
		ResultID   string `json:"result_id"`
		Verdict    string `json:"verdict"`
		Commentary string `json:"commentary"`
	} `json:"items"`
}

// parseCritique maps the model's items onto results. Unknown ids are dropped,
// the first item for an id wins, and results the model skipped are flagged.
func parseCritique(results []Result, resp string) []CritiqueItem {
	var payload critiquePayload
	parsed := llm.DecodeJSONResponse(resp, &payload) == nil

	byID := make(map[string]CritiqueItem)
	if parsed {
		for _, it := range payload.Items {
			id := strings.TrimSpace(it.ResultID)
			if _, seen := byID[id]; seen {
				continue
			}
			verdict := Verdict(strings.ToLower(strings.TrimSpace(it.Verdict)))
			if verdict != Pass && verdict != Flag {
				verdict = Flag
			}
			byID[id] = CritiqueItem{ResultID: id, Verdict: verdict, Commentary: strings.TrimSpace(it.Commentary)}
		}
	} else {
		zap.L().Warn("reviewer response was not valid JSON; flagging all results", zap.Int("results", len(results)))
	}

	items := make([]CritiqueItem, 0, len(results))
	for _, res := range results {
		if it, ok := byID[res.ID()]; ok {
			items = append(items, it)
			continue
		}
		note := missingVerdictNote
		if !parsed {
			note = unparsedNote
		}
		items = append(items, CritiqueItem{ResultID: res.ID(), Verdict: Flag, Commentary: note})
	}
	return items
}
