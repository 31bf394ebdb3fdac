// Package server serves stored analysis reports over HTTP.
package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AIAnalyst/internal/database"
	"github.com/TobiSchelling/AIAnalyst/internal/logging"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var validRatings = map[string]bool{"useful": true, "not_useful": true}

// Server is the HTTP server for browsing reports.
type Server struct {
	db    *database.DB
	log   *zap.Logger
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, log *zap.Logger) (*Server, error) {
	log = logging.OrNop(log)
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"anchor":   anchor,
		"upper":    strings.ToUpper,
		"resultID": persona.ResultID,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, log: log, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /runs/{id}/export/{format}", s.handleExport)
	s.mux.HandleFunc("POST /feedback/{id}/{rating}", s.handleFeedback)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns()
	if err != nil {
		s.log.Error("Listing runs failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", map[string]any{"Runs": runs})
}

// section groups the entries of one chunk (or the whole-run review).
type section struct {
	Label   string
	Entries []report.Entry
}

func sections(rep *report.Report) []section {
	var out []section
	current := -2
	for _, e := range rep.Entries {
		if e.ChunkIndex != current || len(out) == 0 {
			current = e.ChunkIndex
			label := fmt.Sprintf("Chunk %d", current+1)
			if current == persona.WholeRun {
				label = "Whole-run review"
			}
			out = append(out, section{Label: label})
		}
		out[len(out)-1].Entries = append(out[len(out)-1].Entries, e)
	}
	return out
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*database.Run, *report.Report, bool) {
	run, err := s.db.FindRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, nil, false
	}
	if run == nil {
		http.NotFound(w, r)
		return nil, nil, false
	}
	rep, err := run.Report()
	if err != nil {
		s.log.Error("Decoding stored report failed", zap.String("run_id", run.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}
	return run, rep, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, rep, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	feedback, err := s.db.GetEntryFeedbackMap(run.ID)
	if err != nil {
		s.log.Warn("Loading feedback failed", zap.String("run_id", run.ID), zap.Error(err))
		feedback = map[string]string{}
	}
	exports, _ := s.db.GetExports(run.ID)

	s.render(w, "run.html", map[string]any{
		"Run":      run,
		"Report":   rep,
		"Sections": sections(rep),
		"Feedback": feedback,
		"Formats":  report.Formats,
		"Exports":  exports,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.PathValue("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, rep, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	data, err := report.Render(rep, format)
	if err != nil {
		s.log.Error("Rendering export failed", zap.String("run_id", rep.RunID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(rep, format)))
	w.Write(data)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rating := r.PathValue("rating")
	resultID := r.FormValue("result_id")
	if !validRatings[rating] || resultID == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	// Toggle: posting the current rating again removes it.
	existing, _ := s.db.GetEntryFeedback(runID, resultID)
	var err error
	if existing != nil && existing.Rating == rating {
		err = s.db.DeleteEntryFeedback(runID, resultID)
	} else {
		err = s.db.UpsertEntryFeedback(runID, resultID, rating)
	}
	if err != nil {
		s.log.Warn("Storing feedback failed", zap.String("run_id", runID), zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/runs/%s#%s", runID, anchor(resultID)), http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("Template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error("Rendering template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// anchor turns a result id such as "chunk-2/analyst" into an HTML id.
func anchor(resultID string) string {
	return "entry-" + strings.NewReplacer("/", "-", " ", "-").Replace(resultID)
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int, log *zap.Logger) error {
	srv, err := New(db, log)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.log.Info("Server listening", zap.String("addr", "http://"+addr))
	return http.ListenAndServe(addr, srv.Handler())
}
