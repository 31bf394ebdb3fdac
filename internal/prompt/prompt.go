// Package prompt holds versioned prompt templates. Rendering is a pure
// function of the template and its variables.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// DefaultVersion is the version of the built-in templates.
const DefaultVersion = "v1"

// Template is one enumerated prompt: id, version, body and the variables it needs.
type Template struct {
	ID       string
	Version  string
	Body     string
	Required []string

	parsed *template.Template
}

// New parses body. Variables are referenced as {{.name}}.
func New(id, version, body string, required ...string) (*Template, error) {
	parsed, err := template.New(id).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", id, err)
	}
	req := append([]string(nil), required...)
	sort.Strings(req)
	return &Template{ID: id, Version: version, Body: body, Required: req, parsed: parsed}, nil
}

// Key identifies the template and version, e.g. "analyst@v1".
func (t *Template) Key() string { return t.ID + "@" + t.Version }

// Render fills the template. Missing required variables are an error.
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, name := range t.Required {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("template %s: missing variables %s", t.Key(), strings.Join(missing, ", "))
	}

	var buf bytes.Buffer
	if err := t.parsed.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", t.Key(), err)
	}
	return buf.String(), nil
}

// Registry maps template ids to templates.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds t, replacing any template with the same id.
func (r *Registry) Register(t *Template) {
	r.templates[t.ID] = t
}

// Get returns the template registered under id.
func (r *Registry) Get(id string) (*Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown prompt template %q", id)
	}
	return t, nil
}

// Keys returns "id@version" for every template, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.templates))
	for _, t := range r.templates {
		keys = append(keys, t.Key())
	}
	sort.Strings(keys)
	return keys
}

// builtin lists the embedded templates and their required variables.
var builtin = []struct {
	id       string
	required []string
}{
	{"manager", personaVars},
	{"analyst", personaVars},
	{"associate", personaVars},
	{"reviewer", []string{"project_name", "problem_statement", "scope", "results"}},
	{"summary", []string{"project_name", "problem_statement", "findings"}},
}

// personaVars are the variables every persona template receives.
var personaVars = []string{"project_name", "problem_statement", "dataset", "schema", "chunk", "chunk_label", "prior"}

// PersonaVars returns the variable names available to persona templates.
func PersonaVars() []string {
	return append([]string(nil), personaVars...)
}

// Builtin returns a registry with the embedded templates.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	for _, b := range builtin {
		body, err := templateFS.ReadFile("templates/" + b.id + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", b.id, err)
		}
		t, err := New(b.id, DefaultVersion, string(body), b.required...)
		if err != nil {
			return nil, err
		}
		r.Register(t)
	}
	return r, nil
}
