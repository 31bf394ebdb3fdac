package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
)

func testMeta() Meta {
	mean := 133.3
	return Meta{
		RunID:            "0f1e2d3c-aaaa-bbbb-cccc-000000000000",
		ProjectName:      "Q3 Sales",
		ProblemStatement: "Why did revenue drop?",
		GeneratedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Dataset: dataset.Summary{Name: "sales", Rows: 4, Columns: []dataset.ColumnProfile{
			{Name: "region", Type: "string", NonNull: 4, Unique: 4},
			{Name: "revenue", Type: "integer", NonNull: 3, Missing: 1, Unique: 3, Mean: &mean},
		}},
		ChunkCount: 2,
		Personas:   []string{"manager", "analyst"},
		Titles:     map[string]string{"manager": "AI Manager", "analyst": "AI Analyst"},
		Reviewer:   "reviewer",
		ReviewMode: "per_chunk",
		Templates:  []string{"analyst@v1", "manager@v1", "reviewer@v1"},
	}
}

func result(chunk int, id string, findings ...persona.Finding) persona.Result {
	return persona.Result{Persona: id, ChunkIndex: chunk, Narrative: id + " on chunk", Findings: findings}
}

func TestAssembleOrdersEntries(t *testing.T) {
	results := []persona.Result{
		result(1, "analyst"),
		result(0, "analyst", persona.Finding{Kind: "anomaly", Column: "revenue", Severity: "high", Detail: "Null revenue."}),
		result(1, "manager"),
		result(0, "manager"),
	}
	critiques := []persona.Critique{
		{Reviewer: "reviewer", ChunkIndex: 1, Items: []persona.CritiqueItem{
			{ResultID: "chunk-2/manager", Verdict: persona.Pass},
			{ResultID: "chunk-2/analyst", Verdict: persona.Flag, Commentary: "Unsupported claim."},
		}},
	}
	failures := []Failure{
		{ChunkIndex: persona.WholeRun, Persona: "reviewer", Kind: Cancelled},
		{ChunkIndex: 0, Persona: "reviewer", Kind: RetriesExhausted, Attempts: 3, Message: "429"},
	}

	r, err := Assemble(testMeta(), results, critiques, failures)
	require.NoError(t, err)

	type key struct {
		Chunk   int
		Persona string
	}
	var got []key
	for _, e := range r.Entries {
		got = append(got, key{e.ChunkIndex, e.Persona})
	}
	want := []key{
		{0, "manager"}, {0, "analyst"}, {0, "reviewer"},
		{1, "manager"}, {1, "analyst"},
		{persona.WholeRun, "reviewer"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry order mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, StatusPartial, r.Status)
	assert.True(t, r.Entries[2].Incomplete())
	require.NotNil(t, r.Entries[4].Critique)
	assert.Equal(t, persona.Flag, r.Entries[4].Critique.Verdict)
	assert.Nil(t, r.Entries[0].Critique)

	res, fails, flagged := r.Counts()
	assert.Equal(t, 4, res)
	assert.Equal(t, 2, fails)
	assert.Equal(t, 1, flagged)
}

func TestAssembleStatus(t *testing.T) {
	r, err := Assemble(testMeta(), []persona.Result{result(0, "manager")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, r.Status)

	meta := testMeta()
	meta.Cancelled = true
	r, err = Assemble(meta, nil, nil, []Failure{{ChunkIndex: 0, Persona: "manager", Kind: Cancelled}})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, r.Status)
}

func TestAssembleRejectsInconsistentInput(t *testing.T) {
	tests := []struct {
		name      string
		results   []persona.Result
		critiques []persona.Critique
		failures  []Failure
		reason    string
	}{
		{
			name:      "critique of missing result",
			results:   []persona.Result{result(0, "manager")},
			critiques: []persona.Critique{{Items: []persona.CritiqueItem{{ResultID: "chunk-1/analyst"}}}},
			reason:    "unknown result",
		},
		{
			name:    "result with two critique items",
			results: []persona.Result{result(0, "manager")},
			critiques: []persona.Critique{
				{Items: []persona.CritiqueItem{{ResultID: "chunk-1/manager"}}},
				{Items: []persona.CritiqueItem{{ResultID: "chunk-1/manager"}}},
			},
			reason: "more than one critique",
		},
		{
			name:    "duplicate result",
			results: []persona.Result{result(0, "manager"), result(0, "manager")},
			reason:  "two results",
		},
		{
			name:     "result and failure for one slot",
			results:  []persona.Result{result(0, "manager")},
			failures: []Failure{{ChunkIndex: 0, Persona: "manager", Kind: Errored}},
			reason:   "both a result and a failure",
		},
		{
			name:    "persona outside sequence",
			results: []persona.Result{result(0, "associate")},
			reason:  "not in the sequence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(testMeta(), tt.results, tt.critiques, tt.failures)
			var ae *AssemblyError
			require.True(t, errors.As(err, &ae), "expected AssemblyError, got %v", err)
			assert.Contains(t, ae.Reason, tt.reason)
		})
	}
}

func sampleReport(t *testing.T) *Report {
	t.Helper()
	meta := testMeta()
	meta.ExecutiveSummary = []string{"Revenue is missing for one region."}
	results := []persona.Result{
		result(0, "manager"),
		{
			Persona: "analyst", ChunkIndex: 0, Narrative: "| a | b |\n|---|---|\n| 1 | 2 |",
			Findings: []persona.Finding{
				{Kind: "anomaly", Column: "revenue", Severity: "high", Detail: "Null, revenue."},
				{Kind: "pattern", Severity: "low", Detail: "North leads."},
			},
			Visualizations: []persona.Visualization{{Chart: "bar", Columns: []string{"region", "revenue"}, Title: "Revenue by region"}},
		},
		result(1, "manager"),
	}
	critiques := []persona.Critique{{Reviewer: "reviewer", ChunkIndex: 0, Items: []persona.CritiqueItem{
		{ResultID: "chunk-1/manager", Verdict: persona.Pass, Commentary: "Clear plan."},
		{ResultID: "chunk-1/analyst", Verdict: persona.Flag, Commentary: "Check the null."},
	}}}
	failures := []Failure{{ChunkIndex: 1, Persona: "analyst", Kind: PolicyRejected, Attempts: 1, Message: "blocked:\nsafety"}}
	r, err := Assemble(meta, results, critiques, failures)
	require.NoError(t, err)
	return r
}

func TestRenderIsIdempotent(t *testing.T) {
	r := sampleReport(t)
	for _, f := range Formats {
		t.Run(string(f), func(t *testing.T) {
			first, err := Render(r, f)
			require.NoError(t, err)
			second, err := Render(r, f)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(first, second), "rendering %s twice differed", f)
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(sampleReport(t))

	assert.Contains(t, out, "# Q3 Sales\n")
	assert.Contains(t, out, "status: partial")
	assert.Contains(t, out, "## Executive Summary\n\n- Revenue is missing for one region.")
	assert.Contains(t, out, "| revenue | integer | 3 | 1 | 3 |  |  | 133.3 |")
	assert.Contains(t, out, "### AI Analyst")
	assert.Contains(t, out, "- **high** anomaly `revenue`: Null, revenue.")
	assert.Contains(t, out, "> **Review: FLAG.** Check the null.")
	assert.Contains(t, out, "> **Incomplete** (policy_rejected after 1 attempt(s)): blocked: safety")
	assert.Less(t, strings.Index(out, "## Chunk 1"), strings.Index(out, "## Chunk 2"))
	assert.Contains(t, out, "- Results: 3, incomplete: 1, flagged by review: 1")
}

func TestRenderHTML(t *testing.T) {
	out, err := RenderHTML(sampleReport(t))
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<!DOCTYPE html>"))
	assert.Contains(t, s, "<title>Q3 Sales</title>")
	assert.Contains(t, s, "<h1>Q3 Sales</h1>")
	assert.Contains(t, s, "<table>")
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(sampleReport(t))
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	want := [][]string{
		csvHeader,
		{"1", "manager", "narrative", "", "", "manager on chunk", "pass", "Clear plan."},
		{"1", "analyst", "anomaly", "revenue", "high", "Null, revenue.", "flag", "Check the null."},
		{"1", "analyst", "pattern", "", "low", "North leads.", "flag", "Check the null."},
		{"2", "manager", "narrative", "", "", "manager on chunk", "", ""},
		{"2", "analyst", "incomplete", "", "", "policy_rejected after 1 attempt(s): blocked: safety", "", ""},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	r := sampleReport(t)
	data, err := RenderJSON(r)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, RenderMarkdown(r), RenderMarkdown(decoded))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"md": Markdown, "Markdown": Markdown, "HTML": HTML, "htm": HTML, "json": JSON, " csv ": CSV} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	assert.ErrorContains(t, err, "unknown export format")

	fs, err := ParseFormats([]string{"md", "markdown", "csv"})
	require.NoError(t, err)
	assert.Equal(t, []Format{Markdown, CSV}, fs)
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	r := sampleReport(t)

	paths, err := WriteFiles(dir, r, []Format{Markdown, CSV})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "report-0f1e2d3c.md"),
		filepath.Join(dir, "report-0f1e2d3c.csv"),
	}, paths)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, RenderMarkdown(r), string(data))
}

func TestRenderDatasetWithNonFiniteValues(t *testing.T) {
	ds, err := dataset.LoadCSV("m.csv", strings.NewReader("x,y\n1.5,1\nNaN,2\n2,+Inf\n"))
	require.NoError(t, err)

	meta := testMeta()
	meta.Dataset = ds.Profile()
	r, err := Assemble(meta, []persona.Result{result(0, "manager")}, nil, nil)
	require.NoError(t, err)

	for _, f := range Formats {
		_, err := Render(r, f)
		assert.NoError(t, err, "rendering %s", f)
	}
}
