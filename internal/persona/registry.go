package persona

import (
	"crypto/sha256"
	"fmt"

	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/prompt"
)

// Custom describes a persona defined by configuration.
type Custom struct {
	ID       string
	Title    string
	Template string
}

// Registry resolves persona and reviewer ids.
type Registry struct {
	personas  map[string]Persona
	reviewers map[string]Reviewer
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{personas: make(map[string]Persona), reviewers: make(map[string]Reviewer)}
}

// Register adds a persona. Ids are unique across personas and reviewers.
func (r *Registry) Register(p Persona) error {
	if err := r.checkFree(p.ID()); err != nil {
		return err
	}
	r.personas[p.ID()] = p
	r.order = append(r.order, p.ID())
	return nil
}

// RegisterReviewer adds a reviewer.
func (r *Registry) RegisterReviewer(rv Reviewer) error {
	if err := r.checkFree(rv.ID()); err != nil {
		return err
	}
	r.reviewers[rv.ID()] = rv
	return nil
}

func (r *Registry) checkFree(id string) error {
	if id == "" {
		return fmt.Errorf("persona id must not be empty")
	}
	_, p := r.personas[id]
	_, rv := r.reviewers[id]
	if p || rv {
		return fmt.Errorf("persona %q registered twice", id)
	}
	return nil
}

// IDs returns persona ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Get returns the persona registered under id.
func (r *Registry) Get(id string) (Persona, error) {
	if _, ok := r.reviewers[id]; ok {
		return nil, fmt.Errorf("%q is the reviewer and cannot be part of the persona sequence", id)
	}
	p, ok := r.personas[id]
	if !ok {
		return nil, fmt.Errorf("unknown persona %q", id)
	}
	return p, nil
}

// Reviewer returns the reviewer registered under id.
func (r *Registry) Reviewer(id string) (Reviewer, error) {
	rv, ok := r.reviewers[id]
	if !ok {
		return nil, fmt.Errorf("unknown reviewer %q", id)
	}
	return rv, nil
}

// Resolve maps an ordered id list to personas.
func (r *Registry) Resolve(ids []string) ([]Persona, error) {
	out := make([]Persona, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

var builtinTitles = []struct{ id, title string }{
	{"manager", "AI Manager"},
	{"analyst", "AI Analyst"},
	{"associate", "AI Associate"},
}

// ReviewerID is the id of the built-in reviewer.
const ReviewerID = "reviewer"

// Builtin returns a registry holding the built-in personas, the reviewer and
// any custom personas. Custom templates are added to templates so their
// versions are reported alongside the built-in ones.
func Builtin(templates *prompt.Registry, provider llm.Provider, gen Generation, custom []Custom) (*Registry, error) {
	reg := NewRegistry()
	for _, b := range builtinTitles {
		t, err := templates.Get(b.id)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(NewTemplatePersona(b.id, b.title, t, provider, gen)); err != nil {
			return nil, err
		}
	}

	t, err := templates.Get(ReviewerID)
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterReviewer(NewTemplateReviewer(ReviewerID, "AI Project Director", t, provider, gen)); err != nil {
		return nil, err
	}

	for _, c := range custom {
		version := fmt.Sprintf("custom-%x", sha256.Sum256([]byte(c.Template)))[:15]
		t, err := prompt.New(c.ID, version, c.Template)
		if err != nil {
			return nil, fmt.Errorf("custom persona %s: %w", c.ID, err)
		}
		title := c.Title
		if title == "" {
			title = c.ID
		}
		if err := reg.Register(NewTemplatePersona(c.ID, title, t, provider, gen)); err != nil {
			return nil, err
		}
		if _, err := templates.Get(c.ID); err == nil {
			return nil, fmt.Errorf("custom persona %s: id is taken by a built-in prompt template", c.ID)
		}
		templates.Register(t)
	}
	return reg, nil
}
