// Package pipeline runs the persona sequence over every chunk of a dataset,
// reviews the results and assembles the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/AIAnalyst/internal/chunk"
	"github.com/TobiSchelling/AIAnalyst/internal/config"
	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
	"github.com/TobiSchelling/AIAnalyst/internal/llm"
	"github.com/TobiSchelling/AIAnalyst/internal/logging"
	"github.com/TobiSchelling/AIAnalyst/internal/persona"
	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

// ErrCancelled marks invocations skipped or discarded because the run was cancelled.
var ErrCancelled = errors.New("run cancelled")

// Summarizer writes the executive summary. It must not fail the run.
type Summarizer interface {
	Summarize(ctx context.Context, meta report.Meta, results []persona.Result, critiques []persona.Critique) []string
}

// Options configures a Pipeline.
type Options struct {
	ProjectName      string
	ProblemStatement string
	Personas         []persona.Persona
	Reviewer         persona.Reviewer
	ReviewMode       string
	Budget           chunk.Budget
	Workers          int
	RetryLimit       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
	Templates        []string
	Summarizer       Summarizer
	Logger           *zap.Logger

	// Hooks for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	NewID func() string
}

// Pipeline orchestrates one analysis run at a time.
type Pipeline struct {
	opts     Options
	sequence []string
	titles   map[string]string
	log      *zap.Logger
}

// New validates opts. Unknown or misplaced personas are configuration errors
// reported before any LLM call.
func New(opts Options) (*Pipeline, error) {
	if len(opts.Personas) == 0 {
		return nil, fmt.Errorf("persona sequence must not be empty")
	}
	if opts.Reviewer == nil {
		return nil, fmt.Errorf("a reviewer is required")
	}
	switch opts.ReviewMode {
	case "":
		opts.ReviewMode = config.ReviewPerChunk
	case config.ReviewPerChunk, config.ReviewWholeRun:
	default:
		return nil, fmt.Errorf("unknown review mode %q", opts.ReviewMode)
	}
	if opts.Budget.MaxRows <= 0 && opts.Budget.MaxTokens <= 0 {
		return nil, fmt.Errorf("chunk budget needs a positive row or token limit")
	}
	if opts.RetryLimit <= 0 {
		return nil, fmt.Errorf("retry limit must be positive")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	opts.Logger = logging.OrNop(opts.Logger)

	p := &Pipeline{opts: opts, titles: make(map[string]string), log: opts.Logger}
	seen := make(map[string]bool)
	for _, ps := range opts.Personas {
		id := ps.ID()
		if id == opts.Reviewer.ID() {
			return nil, fmt.Errorf("persona sequence must not contain the reviewer %q", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("persona %q appears twice in the sequence", id)
		}
		seen[id] = true
		p.sequence = append(p.sequence, id)
		p.titles[id] = ps.Title()
	}
	p.titles[opts.Reviewer.ID()] = opts.Reviewer.Title()
	return p, nil
}

// Plan describes the work a run would do without calling any provider.
type Plan struct {
	Chunks      []chunk.Chunk
	Invocations int
}

// Plan chunks ds and counts persona and reviewer invocations.
func (p *Pipeline) Plan(ds *dataset.Dataset) (*Plan, error) {
	chunks, err := chunk.Split(ds, p.opts.Budget)
	if err != nil {
		return nil, err
	}
	reviews := len(chunks)
	if p.opts.ReviewMode == config.ReviewWholeRun {
		reviews = 1
	}
	return &Plan{Chunks: chunks, Invocations: len(chunks)*len(p.sequence) + reviews}, nil
}

// Run analyses ds. Persona failures never abort the run: they become
// incomplete report entries. The returned error is reserved for invalid
// datasets, report assembly errors and internal errors.
func (p *Pipeline) Run(ctx context.Context, ds *dataset.Dataset) (*report.Report, error) {
	chunks, err := chunk.Split(ds, p.opts.Budget)
	if err != nil {
		return nil, err
	}

	runID := p.opts.NewID()
	log := p.log.With(zap.String("run_id", runID))
	log.Info("Starting analysis run",
		zap.String("dataset", ds.Name()),
		zap.Int("rows", ds.Len()),
		zap.Int("chunks", len(chunks)),
		zap.Strings("personas", p.sequence),
		zap.String("review_mode", p.opts.ReviewMode),
		zap.Int("workers", p.opts.Workers))

	summary := ds.Profile()
	pctx := persona.Context{
		ProjectName:      p.opts.ProjectName,
		ProblemStatement: p.opts.ProblemStatement,
		Dataset:          summary,
	}
	col := newCollector(p.sequence)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, c := range chunks {
		g.Go(func() error {
			return p.runChunk(gctx, log, col, pctx, c, len(chunks))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.opts.ReviewMode == config.ReviewWholeRun {
		results, _, _ := col.snapshot()
		if err := p.review(ctx, log, col, pctx, persona.WholeRun, results); err != nil {
			return nil, err
		}
	}

	results, critiques, failures := col.snapshot()
	meta := report.Meta{
		RunID:            runID,
		ProjectName:      p.opts.ProjectName,
		ProblemStatement: p.opts.ProblemStatement,
		GeneratedAt:      p.opts.Now().UTC(),
		Dataset:          summary,
		ChunkCount:       len(chunks),
		Personas:         append([]string(nil), p.sequence...),
		Titles:           p.titles,
		Reviewer:         p.opts.Reviewer.ID(),
		ReviewMode:       p.opts.ReviewMode,
		Templates:        append([]string(nil), p.opts.Templates...),
		Cancelled:        cancelled(failures),
	}
	if p.opts.Summarizer != nil && !meta.Cancelled {
		sctx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
		meta.ExecutiveSummary = p.opts.Summarizer.Summarize(sctx, meta, results, critiques)
		cancel()
	}

	r, err := report.Assemble(meta, results, critiques, failures)
	if err != nil {
		return nil, err
	}
	log.Info("Analysis run finished",
		zap.String("status", string(r.Status)),
		zap.Int("results", len(results)),
		zap.Int("failures", len(failures)))
	return r, nil
}

func (p *Pipeline) runChunk(ctx context.Context, log *zap.Logger, col *collector, pctx persona.Context, c chunk.Chunk, total int) error {
	log = log.With(zap.Int("chunk", c.Index+1))
	var prior []persona.Result

	for _, ps := range p.opts.Personas {
		in := persona.Input{
			Context:    pctx,
			Chunk:      c,
			ChunkCount: total,
			Prior:      append([]persona.Result(nil), prior...),
		}
		res, err := invoke(ctx, p, log, ps.ID(), c.Index, func(callCtx context.Context) (persona.Result, error) {
			return ps.Produce(callCtx, in)
		})
		if err != nil {
			if err := col.addFailure(p.failure(log, err)); err != nil {
				return err
			}
			continue
		}
		if err := col.addResult(res); err != nil {
			return err
		}
		prior = append(prior, res)
	}

	if p.opts.ReviewMode == config.ReviewPerChunk {
		return p.review(ctx, log, col, pctx, c.Index, prior)
	}
	return nil
}

// review runs the reviewer over results. Nothing to review means no call.
func (p *Pipeline) review(ctx context.Context, log *zap.Logger, col *collector, pctx persona.Context, scope int, results []persona.Result) error {
	if len(results) == 0 {
		return nil
	}
	rv := p.opts.Reviewer
	in := persona.ReviewInput{Context: pctx, ChunkIndex: scope, Results: results}
	crit, err := invoke(ctx, p, log, rv.ID(), scope, func(callCtx context.Context) (persona.Critique, error) {
		return rv.Review(callCtx, in)
	})
	if err != nil {
		return col.addFailure(p.failure(log, err))
	}
	crit.ChunkIndex = scope
	return col.addCritique(crit)
}

// invoke calls fn with retries. The call runs on a context detached from run
// cancellation and bounded by the call timeout; once the run is cancelled no
// new attempt starts and late output is discarded.
func invoke[T any](ctx context.Context, p *Pipeline, log *zap.Logger, personaID string, chunkIndex int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	fail := func(attempts int, err error) (T, error) {
		return zero, &persona.InvocationError{Persona: personaID, Chunk: chunkIndex, Attempts: attempts, Err: err}
	}

	backoff := p.opts.InitialBackoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fail(attempt-1, ErrCancelled)
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CallTimeout)
		out, err := fn(callCtx)
		cancel()

		if ctx.Err() != nil {
			return fail(attempt, ErrCancelled)
		}
		if err == nil {
			return out, nil
		}
		if !retryable(err) || attempt >= p.opts.RetryLimit {
			return fail(attempt, err)
		}

		log.Warn("Transient LLM error, retrying",
			zap.String("persona", personaID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := p.opts.Sleep(ctx, backoff); err != nil {
			return fail(attempt, ErrCancelled)
		}
		backoff = min(backoff*2, p.opts.MaxBackoff)
	}
}

func retryable(err error) bool {
	if llm.IsContentPolicy(err) {
		return false
	}
	return llm.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// failure converts an invocation error into a report failure.
func (p *Pipeline) failure(log *zap.Logger, err error) report.Failure {
	var ie *persona.InvocationError
	if !errors.As(err, &ie) {
		ie = &persona.InvocationError{Err: err}
	}
	f := report.Failure{
		ChunkIndex: ie.Chunk,
		Persona:    ie.Persona,
		Kind:       failureKind(ie.Err),
		Attempts:   ie.Attempts,
		Message:    ie.Err.Error(),
	}
	if f.Kind == report.Cancelled {
		log.Debug("Invocation cancelled", zap.String("persona", f.Persona))
	} else {
		log.Warn("Persona invocation failed", zap.String("persona", f.Persona), zap.String("kind", string(f.Kind)), zap.Error(err))
	}
	return f
}

func failureKind(err error) report.FailureKind {
	switch {
	case errors.Is(err, ErrCancelled):
		return report.Cancelled
	case llm.IsContentPolicy(err):
		return report.PolicyRejected
	case retryable(err):
		return report.RetriesExhausted
	default:
		return report.Errored
	}
}

func cancelled(failures []report.Failure) bool {
	for _, f := range failures {
		if f.Kind == report.Cancelled {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
