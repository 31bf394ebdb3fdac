// Package report assembles persona results, critiques and failures into an
// immutable Report and renders it to export formats.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
)

// Status summarises how a run ended.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

// FailureKind classifies why a unit produced no result.
type FailureKind string

const (
	RetriesExhausted FailureKind = "retries_exhausted"
	PolicyRejected   FailureKind = "policy_rejected"
	Cancelled        FailureKind = "cancelled"
	Errored          FailureKind = "error"
)

// Failure is a (chunk, persona) unit that did not produce a result.
// ChunkIndex is persona.WholeRun for a whole-run review.
type Failure struct {
	ChunkIndex int         `json:"chunk_index"`
	Persona    string      `json:"persona"`
	Kind       FailureKind `json:"kind"`
	Attempts   int         `json:"attempts"`
	Message    string      `json:"message"`
}

// Meta is the run-level information a report carries.
type Meta struct {
	RunID            string            `json:"run_id"`
	ProjectName      string            `json:"project_name"`
	ProblemStatement string            `json:"problem_statement,omitempty"`
	GeneratedAt      time.Time         `json:"generated_at"`
	Dataset          dataset.Summary   `json:"dataset"`
	ChunkCount       int               `json:"chunk_count"`
	Personas         []string          `json:"personas"`
	Titles           map[string]string `json:"titles,omitempty"`
	Reviewer         string            `json:"reviewer"`
	ReviewMode       string            `json:"review_mode"`
	Templates        []string          `json:"templates"`
	ExecutiveSummary []string          `json:"executive_summary,omitempty"`
	Cancelled        bool              `json:"cancelled,omitempty"`
}

// Title returns the display name for a persona id.
func (m Meta) Title(id string) string {
	if t, ok := m.Titles[id]; ok && t != "" {
		return t
	}
	return id
}

// Entry is one line of the report: a result with its critique, or a failure.
type Entry struct {
	ChunkIndex int                   `json:"chunk_index"`
	Persona    string                `json:"persona"`
	Result     *persona.Result       `json:"result,omitempty"`
	Critique   *persona.CritiqueItem `json:"critique,omitempty"`
	Failure    *Failure              `json:"failure,omitempty"`
}

// Incomplete reports whether the entry stands for a failed unit.
func (e Entry) Incomplete() bool { return e.Failure != nil }

// Report is the assembled output of one run.
type Report struct {
	Meta
	Status  Status  `json:"status"`
	Entries []Entry `json:"entries"`
}

// Counts returns the number of results, failures and flagged results.
func (r *Report) Counts() (results, failures, flagged int) {
	for _, e := range r.Entries {
		switch {
		case e.Failure != nil:
			failures++
		case e.Result != nil:
			results++
			if e.Critique != nil && e.Critique.Verdict == persona.Flag {
				flagged++
			}
		}
	}
	return results, failures, flagged
}

// AssemblyError reports inconsistent inputs to Assemble.
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return "report assembly: " + e.Reason
}

func assemblyErrorf(format string, args ...any) error {
	return &AssemblyError{Reason: fmt.Sprintf(format, args...)}
}

type slot struct {
	chunk   int
	persona string
}

// Assemble builds a Report. Entries are ordered by chunk, then by position in
// the persona sequence; reviewer failures follow their chunk and whole-run
// reviewer failures come last.
func Assemble(meta Meta, results []persona.Result, critiques []persona.Critique, failures []Failure) (*Report, error) {
	position := make(map[string]int, len(meta.Personas)+1)
	for i, id := range meta.Personas {
		position[id] = i
	}

	entries := make(map[slot]*Entry, len(results)+len(failures))
	byResultID := make(map[string]*Entry, len(results))

	for i := range results {
		res := results[i]
		if _, ok := position[res.Persona]; !ok {
			return nil, assemblyErrorf("result %s names persona %q which is not in the sequence", res.ID(), res.Persona)
		}
		s := slot{res.ChunkIndex, res.Persona}
		if _, dup := entries[s]; dup {
			return nil, assemblyErrorf("two results for %s", res.ID())
		}
		e := &Entry{ChunkIndex: res.ChunkIndex, Persona: res.Persona, Result: &res}
		entries[s] = e
		byResultID[res.ID()] = e
	}

	for i := range failures {
		f := failures[i]
		if _, ok := position[f.Persona]; !ok && f.Persona != meta.Reviewer {
			return nil, assemblyErrorf("failure names persona %q which is not in the sequence", f.Persona)
		}
		s := slot{f.ChunkIndex, f.Persona}
		if prev, dup := entries[s]; dup {
			if prev.Result != nil {
				return nil, assemblyErrorf("%s has both a result and a failure", persona.ResultID(f.ChunkIndex, f.Persona))
			}
			return nil, assemblyErrorf("two failures for %s", persona.ResultID(f.ChunkIndex, f.Persona))
		}
		entries[s] = &Entry{ChunkIndex: f.ChunkIndex, Persona: f.Persona, Failure: &f}
	}

	for _, c := range critiques {
		for i := range c.Items {
			item := c.Items[i]
			e, ok := byResultID[item.ResultID]
			if !ok {
				return nil, assemblyErrorf("critique references unknown result %q", item.ResultID)
			}
			if e.Critique != nil {
				return nil, assemblyErrorf("result %s has more than one critique item", item.ResultID)
			}
			e.Critique = &item
		}
	}

	ordered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, *e)
	}
	reviewerPos := len(meta.Personas)
	sortKey := func(e Entry) (int, int) {
		chunk := e.ChunkIndex
		if chunk == persona.WholeRun {
			chunk = math.MaxInt
		}
		pos, ok := position[e.Persona]
		if !ok {
			pos = reviewerPos
		}
		return chunk, pos
	}
	sort.Slice(ordered, func(i, j int) bool {
		ci, pi := sortKey(ordered[i])
		cj, pj := sortKey(ordered[j])
		if ci != cj {
			return ci < cj
		}
		return pi < pj
	})

	r := &Report{Meta: meta, Status: StatusComplete, Entries: ordered}
	switch {
	case meta.Cancelled:
		r.Status = StatusCancelled
	case len(failures) > 0:
		r.Status = StatusPartial
	}
	return r, nil
}

// Decode parses a report previously rendered as JSON.
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}
