package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/AIAnalyst/internal/persona"
)

// Format is an export format.
type Format string

const (
	Markdown Format = "markdown"
	HTML     Format = "html"
	JSON     Format = "json"
	CSV      Format = "csv"
)

// Formats lists every supported format.
var Formats = []Format{Markdown, HTML, JSON, CSV}

// ParseFormat accepts a format name or its common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return Markdown, nil
	case "html", "htm":
		return HTML, nil
	case "json":
		return JSON, nil
	case "csv":
		return CSV, nil
	}
	return "", fmt.Errorf("unknown export format %q (want markdown, html, json or csv)", s)
}

// ParseFormats parses a list of format names, dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, n := range names {
		f, err := ParseFormat(n)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case Markdown:
		return ".md"
	case HTML:
		return ".html"
	case JSON:
		return ".json"
	case CSV:
		return ".csv"
	}
	return ""
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case Markdown:
		return "text/markdown; charset=utf-8"
	case HTML:
		return "text/html; charset=utf-8"
	case JSON:
		return "application/json"
	case CSV:
		return "text/csv; charset=utf-8"
	}
	return "application/octet-stream"
}

// Render serialises r. Output depends only on r.
func Render(r *Report, f Format) ([]byte, error) {
	switch f {
	case Markdown:
		return []byte(RenderMarkdown(r)), nil
	case HTML:
		return RenderHTML(r)
	case JSON:
		return RenderJSON(r)
	case CSV:
		return RenderCSV(r)
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// Filename is the base file name used when r is exported as f.
func Filename(r *Report, f Format) string {
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return "report-" + id + f.Extension()
}

// WriteFiles renders r in every format into dir and returns the written paths.
func WriteFiles(dir string, r *Report, formats []Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		data, err := Render(r, f)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, Filename(r, f))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RenderMarkdown renders r as a Markdown document.
func RenderMarkdown(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.ProjectName)
	fmt.Fprintf(&b, "*Run %s, generated %s, status: %s*\n\n", r.RunID, r.GeneratedAt.UTC().Format(time.RFC3339), r.Status)

	b.WriteString("## Problem Statement\n\n")
	if strings.TrimSpace(r.ProblemStatement) == "" {
		b.WriteString("_Not provided._\n\n")
	} else {
		b.WriteString(strings.TrimSpace(r.ProblemStatement) + "\n\n")
	}

	writeDataset(&b, r)

	if len(r.ExecutiveSummary) > 0 {
		b.WriteString("## Executive Summary\n\n")
		for _, bullet := range r.ExecutiveSummary {
			fmt.Fprintf(&b, "- %s\n", bullet)
		}
		b.WriteString("\n")
	}

	current := -2
	for _, e := range r.Entries {
		if e.ChunkIndex != current {
			current = e.ChunkIndex
			if current == persona.WholeRun {
				b.WriteString("## Whole-run Review\n\n")
			} else {
				fmt.Fprintf(&b, "## Chunk %d\n\n", current+1)
			}
		}
		writeEntry(&b, r, e)
	}

	results, failures, flagged := r.Counts()
	b.WriteString("## Run Details\n\n")
	fmt.Fprintf(&b, "- Results: %d, incomplete: %d, flagged by review: %d\n", results, failures, flagged)
	fmt.Fprintf(&b, "- Personas: %s\n", strings.Join(r.Personas, ", "))
	fmt.Fprintf(&b, "- Reviewer: %s (%s)\n", r.Reviewer, r.ReviewMode)
	fmt.Fprintf(&b, "- Chunks: %d\n", r.ChunkCount)
	if len(r.Templates) > 0 {
		fmt.Fprintf(&b, "- Prompt templates: %s\n", strings.Join(r.Templates, ", "))
	}
	return b.String()
}

func writeDataset(b *strings.Builder, r *Report) {
	d := r.Dataset
	b.WriteString("## Dataset\n\n")
	fmt.Fprintf(b, "**%s**: %d rows, %d columns\n\n", d.Name, d.Rows, len(d.Columns))
	if len(d.Columns) == 0 {
		return
	}
	b.WriteString("| Column | Type | Non-null | Missing | Unique | Min | Max | Mean |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, c := range d.Columns {
		fmt.Fprintf(b, "| %s | %s | %d | %d | %d | %s | %s | %s |\n",
			escapeCell(c.Name), c.Type, c.NonNull, c.Missing, c.Unique,
			formatStat(c.Min), formatStat(c.Max), formatStat(c.Mean))
	}
	b.WriteString("\n")
}

func writeEntry(b *strings.Builder, r *Report, e Entry) {
	fmt.Fprintf(b, "### %s\n\n", r.Title(e.Persona))

	if f := e.Failure; f != nil {
		fmt.Fprintf(b, "> **Incomplete** (%s after %d attempt(s)): %s\n\n", f.Kind, f.Attempts, oneLine(f.Message))
		return
	}

	res := e.Result
	if n := strings.TrimSpace(res.Narrative); n != "" {
		b.WriteString(n + "\n\n")
	}
	if len(res.Findings) > 0 {
		b.WriteString("**Findings**\n\n")
		for _, f := range res.Findings {
			if f.Column != "" {
				fmt.Fprintf(b, "- **%s** %s `%s`: %s\n", f.Severity, f.Kind, f.Column, f.Detail)
			} else {
				fmt.Fprintf(b, "- **%s** %s: %s\n", f.Severity, f.Kind, f.Detail)
			}
		}
		b.WriteString("\n")
	}
	if len(res.Visualizations) > 0 {
		b.WriteString("**Suggested visualizations**\n\n")
		for _, v := range res.Visualizations {
			fmt.Fprintf(b, "- %s chart of %s: %s\n", v.Chart, strings.Join(v.Columns, ", "), v.Title)
		}
		b.WriteString("\n")
	}
	if c := e.Critique; c != nil {
		fmt.Fprintf(b, "> **Review: %s.** %s\n\n", strings.ToUpper(string(c.Verdict)), oneLine(c.Commentary))
	}
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

const htmlShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; line-height: 1.5; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
blockquote { border-left: 4px solid #c93; margin: 1rem 0; padding: 0.2rem 1rem; background: #fdf8ee; }
code { background: #f2f2f2; padding: 0 0.2rem; }
</style>
</head>
<body>
%s</body>
</html>
`

// RenderHTML converts the Markdown rendering to HTML inside a fixed page shell.
func RenderHTML(r *Report) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(RenderMarkdown(r)), &body); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}
	return []byte(fmt.Sprintf(htmlShell, html.EscapeString(r.ProjectName), body.String())), nil
}

// RenderJSON renders the whole report as indented JSON.
func RenderJSON(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering json: %w", err)
	}
	return append(data, '\n'), nil
}

var csvHeader = []string{"chunk", "persona", "kind", "column", "severity", "detail", "verdict", "review_commentary"}

// RenderCSV renders a findings table. Results without findings contribute
// one narrative row and failures one row of kind "incomplete".
func RenderCSV(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range r.Entries {
		chunkCol := "all"
		if e.ChunkIndex != persona.WholeRun {
			chunkCol = strconv.Itoa(e.ChunkIndex + 1)
		}

		if f := e.Failure; f != nil {
			detail := fmt.Sprintf("%s after %d attempt(s): %s", f.Kind, f.Attempts, oneLine(f.Message))
			if err := w.Write([]string{chunkCol, e.Persona, "incomplete", "", "", detail, "", ""}); err != nil {
				return nil, err
			}
			continue
		}

		var verdict, commentary string
		if e.Critique != nil {
			verdict, commentary = string(e.Critique.Verdict), e.Critique.Commentary
		}
		if len(e.Result.Findings) == 0 {
			if err := w.Write([]string{chunkCol, e.Persona, "narrative", "", "", oneLine(e.Result.Narrative), verdict, commentary}); err != nil {
				return nil, err
			}
			continue
		}
		for _, f := range e.Result.Findings {
			if err := w.Write([]string{chunkCol, e.Persona, f.Kind, f.Column, f.Severity, f.Detail, verdict, commentary}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("rendering csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatStat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', 6, 64)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
