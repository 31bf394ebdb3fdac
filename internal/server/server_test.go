package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/AIAnalyst/internal/database"
	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

const runID = "5f0c9a1e-1111-2222-3333-444455556666"

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func storeReport(t *testing.T, db *database.DB) *report.Report {
	t.Helper()
	meta := report.Meta{
		RunID:            runID,
		ProjectName:      "Store Sales",
		ProblemStatement: "Which stores *underperform*?",
		GeneratedAt:      time.Date(2026, 2, 6, 9, 30, 0, 0, time.UTC),
		Dataset:          dataset.Summary{Name: "sales.csv", Rows: 40},
		ChunkCount:       2,
		Personas:         []string{"manager", "analyst"},
		Titles:           map[string]string{"manager": "AI Manager", "analyst": "AI Analyst", "reviewer": "AI Project Director"},
		Reviewer:         "reviewer",
		ReviewMode:       "per_chunk",
		Templates:        []string{"analyst@v1", "manager@v1"},
		ExecutiveSummary: []string{"Store 7 lags on revenue."},
	}
	results := []persona.Result{
		{Persona: "manager", ChunkIndex: 0, Narrative: "Focus on **revenue** per store."},
		{Persona: "analyst", ChunkIndex: 0, Narrative: "Revenue varies.", Findings: []persona.Finding{
			{Kind: "anomaly", Column: "revenue", Severity: "high", Detail: "Store 7 revenue is negative."},
		}},
		{Persona: "manager", ChunkIndex: 1, Narrative: "Second half plan."},
	}
	critiques := []persona.Critique{{Reviewer: "reviewer", ChunkIndex: 0, Items: []persona.CritiqueItem{
		{ResultID: "chunk-1/manager", Verdict: persona.Pass, Commentary: "Clear."},
		{ResultID: "chunk-1/analyst", Verdict: persona.Flag, Commentary: "Verify the sign."},
	}}}
	failures := []report.Failure{{ChunkIndex: 1, Persona: "analyst", Kind: report.RetriesExhausted, Attempts: 3, Message: "rate limited"}}

	r, err := report.Assemble(meta, results, critiques, failures)
	if err != nil {
		t.Fatalf("assembling report: %v", err)
	}
	if err := db.InsertRun(r); err != nil {
		t.Fatalf("storing report: %v", err)
	}
	return r
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No reports yet") {
		t.Error("expected empty state in response body")
	}

	storeReport(t, db)
	rec = get(t, srv, "/")
	body := rec.Body.String()
	if !strings.Contains(body, "Store Sales") {
		t.Error("expected project name in listing")
	}
	if !strings.Contains(body, `href="/runs/`+runID+`"`) {
		t.Error("expected link to the run")
	}
	if !strings.Contains(body, "status-partial") {
		t.Error("expected partial status badge")
	}
}

func TestRunRoute(t *testing.T) {
	db := openTestDB(t)
	storeReport(t, db)
	srv := newTestServer(t, db)

	rec := get(t, srv, "/runs/"+runID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"<em>underperform</em>",
		"<strong>revenue</strong>",
		"Store 7 lags on revenue.",
		"Store 7 revenue is negative.",
		"Review: FLAG.",
		"Incomplete: retries_exhausted after 3 attempt(s).",
		`id="entry-chunk-1-analyst"`,
		"/feedback/" + runID + "/useful",
		"/runs/" + runID + "/export/csv",
		"AI Project Director (per_chunk)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestRunRouteByPrefixAndMissing(t *testing.T) {
	db := openTestDB(t)
	storeReport(t, db)
	srv := newTestServer(t, db)

	if rec := get(t, srv, "/runs/5f0c9a1e"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for id prefix, got %d", rec.Code)
	}
	if rec := get(t, srv, "/runs/ffffffff"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestExportRoute(t *testing.T) {
	db := openTestDB(t)
	r := storeReport(t, db)
	srv := newTestServer(t, db)

	rec := get(t, srv, "/runs/"+runID+"/export/md")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report-5f0c9a1e.md") {
		t.Errorf("unexpected content disposition %q", cd)
	}
	if rec.Body.String() != report.RenderMarkdown(r) {
		t.Error("export should match the markdown rendering of the stored report")
	}

	if rec := get(t, srv, "/runs/"+runID+"/export/pdf"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func postFeedback(srv *Server, rating, resultID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/feedback/"+runID+"/"+rating, strings.NewReader("result_id="+resultID))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestFeedbackRoute(t *testing.T) {
	db := openTestDB(t)
	storeReport(t, db)
	srv := newTestServer(t, db)

	rec := postFeedback(srv, "useful", "chunk-1/analyst")
	if rec.Code != http.StatusFound {
		t.Errorf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasSuffix(loc, "#entry-chunk-1-analyst") {
		t.Errorf("expected anchor in redirect, got %q", loc)
	}

	fb, _ := db.GetEntryFeedback(runID, "chunk-1/analyst")
	if fb == nil || fb.Rating != "useful" {
		t.Error("expected 'useful' feedback stored")
	}

	// Toggle off: POST same rating again
	postFeedback(srv, "useful", "chunk-1/analyst")
	fb, _ = db.GetEntryFeedback(runID, "chunk-1/analyst")
	if fb != nil {
		t.Error("expected nil feedback after toggle off")
	}

	if rec := postFeedback(srv, "great", "chunk-1/analyst"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid rating, got %d", rec.Code)
	}
}

func TestStaticRoute(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))

	rec := get(t, srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}
