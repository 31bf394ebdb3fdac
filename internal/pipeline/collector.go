package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

type slot struct {
	chunk   int
	persona string
}

// collector is the run-scoped store for outcomes. Each (chunk, persona) slot
// and each review scope is written at most once.
type collector struct {
	mu        sync.Mutex
	order     map[string]int
	results   map[slot]persona.Result
	failures  map[slot]report.Failure
	critiques map[int]persona.Critique
}

func newCollector(sequence []string) *collector {
	order := make(map[string]int, len(sequence))
	for i, id := range sequence {
		order[id] = i
	}
	return &collector{
		order:     order,
		results:   make(map[slot]persona.Result),
		failures:  make(map[slot]report.Failure),
		critiques: make(map[int]persona.Critique),
	}
}

func (c *collector) claim(s slot) error {
	_, r := c.results[s]
	_, f := c.failures[s]
	if r || f {
		return fmt.Errorf("internal error: outcome for %s recorded twice", persona.ResultID(s.chunk, s.persona))
	}
	return nil
}

func (c *collector) addResult(r persona.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := slot{r.ChunkIndex, r.Persona}
	if err := c.claim(s); err != nil {
		return err
	}
	c.results[s] = r
	return nil
}

func (c *collector) addFailure(f report.Failure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := slot{f.ChunkIndex, f.Persona}
	if err := c.claim(s); err != nil {
		return err
	}
	c.failures[s] = f
	return nil
}

func (c *collector) addCritique(cr persona.Critique) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.critiques[cr.ChunkIndex]; dup {
		return fmt.Errorf("internal error: critique for scope %d recorded twice", cr.ChunkIndex)
	}
	c.critiques[cr.ChunkIndex] = cr
	return nil
}

// snapshot returns everything collected, results ordered by chunk and then
// sequence position.
func (c *collector) snapshot() ([]persona.Result, []persona.Critique, []report.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]persona.Result, 0, len(c.results))
	for _, r := range c.results {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return c.order[results[i].Persona] < c.order[results[j].Persona]
	})

	critiques := make([]persona.Critique, 0, len(c.critiques))
	for _, cr := range c.critiques {
		critiques = append(critiques, cr)
	}
	sort.Slice(critiques, func(i, j int) bool { return critiques[i].ChunkIndex < critiques[j].ChunkIndex })

	failures := make([]report.Failure, 0, len(c.failures))
	for _, f := range c.failures {
		failures = append(failures, f)
	}
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].ChunkIndex != failures[j].ChunkIndex {
			return failures[i].ChunkIndex < failures[j].ChunkIndex
		}
		return failures[i].Persona < failures[j].Persona
	})
	return results, critiques, failures
}
