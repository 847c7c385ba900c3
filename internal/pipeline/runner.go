package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/model"
)

// ForumCrawler crawls one forum from a checkpoint.
type ForumCrawler interface {
	Run(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error)
}

// Factory builds the crawler for job.
type Factory func(job Job) (ForumCrawler, error)

// Checkpoints returns saved progress for a forum, or nil.
type Checkpoints interface {
	Get(forumKey string) *model.Checkpoint
}

// Job is one forum scheduled in a run.
type Job struct {
	Forum config.ForumConfig
	// Engine is the resolved engine for the forum; never auto.
	Engine config.Engine
}

// Outcome is how one forum ended.
type Outcome struct {
	Forum  string
	Engine config.Engine
	// Checkpoint is the forum's final checkpoint.
	Checkpoint *model.Checkpoint
	// Skipped is set when the forum had already finished in a resumed run.
	Skipped bool
	// Err is the error that stopped the forum, if any.
	Err error
}

// Summary is the result of a whole run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	// Forums are in job order.
	Forums []Outcome
	// Interrupted is set when the run context ended before every forum
	// finished.
	Interrupted bool
}

// Elapsed is the wall time of the run.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Totals sums the counters of every forum.
func (s *Summary) Totals() model.Counters {
	var total model.Counters
	for _, o := range s.Forums {
		if o.Checkpoint != nil {
			total.Merge(o.Checkpoint.Counters)
		}
	}
	return total
}

// Runner drives the crawlers of one run.
type Runner struct {
	factory     Factory
	runID       string
	checkpoints Checkpoints
	concurrency int
	render      *semaphore.Weighted
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets how many forums are crawled at once. Values below
// one are ignored.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithResume continues forums from the checkpoints in cps.
func WithResume(cps Checkpoints) Option {
	return func(r *Runner) {
		r.checkpoints = cps
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner returns a Runner that builds crawlers with factory and tags new
// checkpoints with runID.
func NewRunner(runID string, factory Factory, opts ...Option) *Runner {
	r := &Runner{
		factory:     factory,
		runID:       runID,
		concurrency: config.DefaultConcurrency,
		render:      semaphore.NewWeighted(1),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run crawls every job and returns how each forum ended. Forum failures are
// reported in the outcomes; the returned error is the context's error when
// the run was cancelled.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Summary, error) {
	summary := &Summary{
		RunID:     r.runID,
		StartedAt: r.now().UTC(),
		Forums:    make([]Outcome, len(jobs)),
	}
	r.logger.Info("crawl run started", "run_id", r.runID, "forums", len(jobs), "concurrency", r.concurrency)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, job := range jobs {
		g.Go(func() error {
			out := r.runJob(ctx, job)
			mu.Lock()
			summary.Forums[i] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // jobs never return errors; failures are in the outcomes

	summary.FinishedAt = r.now().UTC()
	if err := ctx.Err(); err != nil {
		summary.Interrupted = true
		r.logger.Warn("crawl run interrupted", "run_id", r.runID, "error", err)
		return summary, err
	}
	r.logger.Info("crawl run finished", "run_id", r.runID, "elapsed", summary.Elapsed())
	return summary, nil
}

func (r *Runner) runJob(ctx context.Context, job Job) Outcome {
	key := job.Forum.Key
	out := Outcome{Forum: key, Engine: job.Engine}
	logger := r.logger.With("forum", key, "engine", job.Engine.String())

	cp := r.startingPoint(key)
	if cp.Finished() {
		logger.Info("forum already finished, skipping", "state", cp.State)
		out.Checkpoint = cp
		out.Skipped = true
		return out
	}

	if err := ctx.Err(); err != nil {
		out.Checkpoint = cp
		out.Err = err
		return out
	}

	if job.Engine == config.EngineRendering {
		if err := r.render.Acquire(ctx, 1); err != nil {
			out.Checkpoint = cp
			out.Err = err
			return out
		}
		defer r.render.Release(1)
	}

	crawler, err := r.factory(job)
	if err != nil {
		logger.Error("failed to set up forum", "error", err)
		cp.State = model.StateAborted
		cp.AbortReason = err.Error()
		out.Checkpoint = cp
		out.Err = err
		return out
	}

	final, err := crawler.Run(ctx, cp)
	if final == nil {
		final = cp
	}
	out.Checkpoint = final
	out.Err = err
	if err != nil && ctx.Err() == nil {
		logger.Error("forum failed", "error", err)
	}
	return out
}

// startingPoint returns the checkpoint a forum starts from: its saved one
// when resuming, otherwise a fresh one.
func (r *Runner) startingPoint(key string) *model.Checkpoint {
	if r.checkpoints != nil {
		if cp := r.checkpoints.Get(key); cp != nil {
			return cp
		}
	}
	return model.NewCheckpoint(r.runID, key)
}
