// Package persona defines the AI roles that analyse chunks and the Reviewer
// that audits their output.
package persona

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/AIAnalyst/internal/chunk"
	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
)

// WholeRun is the chunk index of a critique that covers every chunk.
const WholeRun = -1

// Finding is one structured observation extracted from a persona's output.
type Finding struct {
	Kind     string `json:"kind"`
	Column   string `json:"column,omitempty"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Visualization is a chart a persona suggests producing.
type Visualization struct {
	Chart   string   `json:"chart"`
	Columns []string `json:"columns,omitempty"`
	Title   string   `json:"title"`
}

// Result is a persona's output for one chunk. It is never modified after
// creation and carries no attempt or timing data, so a result produced after
// retries equals one produced on the first try.
type Result struct {
	Persona        string          `json:"persona"`
	ChunkIndex     int             `json:"chunk_index"`
	Narrative      string          `json:"narrative"`
	Findings       []Finding       `json:"findings,omitempty"`
	Visualizations []Visualization `json:"visualizations,omitempty"`
}

// ID is the stable reference critiques use for this result.
func (r Result) ID() string { return ResultID(r.ChunkIndex, r.Persona) }

// ResultID formats the reference for persona's result on a chunk.
func ResultID(chunkIndex int, persona string) string {
	return fmt.Sprintf("chunk-%d/%s", chunkIndex+1, persona)
}

// Verdict is the Reviewer's judgement on a result.
type Verdict string

const (
	Pass Verdict = "pass"
	Flag Verdict = "flag"
)

// CritiqueItem is the Reviewer's verdict on exactly one result.
type CritiqueItem struct {
	ResultID   string  `json:"result_id"`
	Verdict    Verdict `json:"verdict"`
	Commentary string  `json:"commentary"`
}

// Critique is the Reviewer's output for one review scope.
type Critique struct {
	Reviewer   string         `json:"reviewer"`
	ChunkIndex int            `json:"chunk_index"`
	Items      []CritiqueItem `json:"items"`
}

// Context is the run-wide information every persona receives.
type Context struct {
	ProjectName      string
	ProblemStatement string
	Dataset          dataset.Summary
}

// Input is a single persona request: one chunk plus the results earlier
// personas produced for that same chunk.
type Input struct {
	Context    Context
	Chunk      chunk.Chunk
	ChunkCount int
	Prior      []Result
}

// ReviewInput is what the Reviewer audits. ChunkIndex is WholeRun when the
// review spans all chunks.
type ReviewInput struct {
	Context    Context
	ChunkIndex int
	Results    []Result
}

// Persona is the capability every analysing role implements.
type Persona interface {
	ID() string
	Title() string
	Produce(ctx context.Context, in Input) (Result, error)
}

// Reviewer audits the accumulated results and returns one item per result.
type Reviewer interface {
	ID() string
	Title() string
	Review(ctx context.Context, in ReviewInput) (Critique, error)
}

// Versioned is implemented by personas backed by a prompt template.
type Versioned interface {
	TemplateKey() string
}

// InvocationError records why a persona invocation produced no result.
type InvocationError struct {
	Persona  string
	Chunk    int
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	scope := fmt.Sprintf("chunk %d", e.Chunk+1)
	if e.Chunk == WholeRun {
		scope = "whole run"
	}
	return fmt.Sprintf("persona %s on %s failed after %d attempt(s): %v", e.Persona, scope, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
