package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/model"
)

// stubCrawler finishes its forum after an optional delay and tracks how
// many rendering crawlers run at once.
type stubCrawler struct {
	job     Job
	delay   time.Duration
	err     error
	active  *atomic.Int32
	maxSeen *atomic.Int32
	started chan<- string
}

func (s *stubCrawler) Run(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error) {
	cp = cp.Clone()
	if s.started != nil {
		s.started <- s.job.Forum.Key
	}
	if s.active != nil {
		n := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			old := s.maxSeen.Load()
			if n <= old || s.maxSeen.CompareAndSwap(old, n) {
				break
			}
		}
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		cp.State = model.StateRunning
		return cp, ctx.Err()
	}
	if s.err != nil {
		cp.State = model.StateAborted
		return cp, s.err
	}
	cp.State = model.StateDone
	cp.Counters.PagesFetched = 2
	cp.Counters.AddError("network")
	return cp, nil
}

type mapCheckpoints map[string]*model.Checkpoint

func (m mapCheckpoints) Get(key string) *model.Checkpoint {
	if cp, ok := m[key]; ok {
		return cp.Clone()
	}
	return nil
}

func jobs(engine config.Engine, keys ...string) []Job {
	out := make([]Job, 0, len(keys))
	for _, k := range keys {
		out = append(out, Job{Forum: config.ForumConfig{Key: k}, Engine: engine})
	}
	return out
}

func TestRunnerRunsEveryForum(t *testing.T) {
	t.Parallel()

	r := NewRunner("run-1", func(job Job) (ForumCrawler, error) {
		return &stubCrawler{job: job}, nil
	})
	summary, err := r.Run(context.Background(), jobs(config.EngineProtocol, "f1", "f2", "f3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Forums) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(summary.Forums))
	}
	for i, key := range []string{"f1", "f2", "f3"} {
		o := summary.Forums[i]
		if o.Forum != key || o.Checkpoint.State != model.StateDone || o.Checkpoint.RunID != "run-1" {
			t.Errorf("outcome %d = %+v", i, o)
		}
	}
	totals := summary.Totals()
	if totals.PagesFetched != 6 || totals.Errors["network"] != 3 {
		t.Errorf("totals = %+v", totals)
	}
	if summary.Interrupted {
		t.Error("run marked interrupted")
	}
}

func TestRunnerDefaultsToSequential(t *testing.T) {
	t.Parallel()

	var active, maxSeen atomic.Int32
	r := NewRunner("run", func(job Job) (ForumCrawler, error) {
		return &stubCrawler{job: job, delay: 10 * time.Millisecond, active: &active, maxSeen: &maxSeen}, nil
	})
	if _, err := r.Run(context.Background(), jobs(config.EngineProtocol, "a", "b", "c")); err != nil {
		t.Fatal(err)
	}
	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent forums = %d, want 1", maxSeen.Load())
	}
}

func TestRunnerLimitsRenderingEngine(t *testing.T) {
	t.Parallel()

	var renderActive, renderMax, protoActive, protoMax atomic.Int32
	r := NewRunner("run", func(job Job) (ForumCrawler, error) {
		if job.Engine == config.EngineRendering {
			return &stubCrawler{job: job, delay: 20 * time.Millisecond, active: &renderActive, maxSeen: &renderMax}, nil
		}
		return &stubCrawler{job: job, delay: 20 * time.Millisecond, active: &protoActive, maxSeen: &protoMax}, nil
	}, WithConcurrency(4))

	all := append(jobs(config.EngineProtocol, "p1", "p2"), jobs(config.EngineRendering, "r1", "r2", "r3")...)
	summary, err := r.Run(context.Background(), all)
	if err != nil {
		t.Fatal(err)
	}
	if renderMax.Load() != 1 {
		t.Errorf("rendering forums ran %d at once", renderMax.Load())
	}
	if protoMax.Load() < 2 {
		t.Errorf("protocol forums did not run concurrently (max %d)", protoMax.Load())
	}
	for _, o := range summary.Forums {
		if o.Checkpoint.State != model.StateDone {
			t.Errorf("%s ended %s", o.Forum, o.Checkpoint.State)
		}
	}
}

func TestRunnerIsolatesForumFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := NewRunner("run", func(job Job) (ForumCrawler, error) {
		switch job.Forum.Key {
		case "bad-setup":
			return nil, boom
		case "bad-run":
			return &stubCrawler{job: job, err: boom}, nil
		default:
			return &stubCrawler{job: job}, nil
		}
	}, WithConcurrency(2))

	summary, err := r.Run(context.Background(), jobs(config.EngineProtocol, "bad-setup", "bad-run", "good"))
	if err != nil {
		t.Fatalf("forum failures must not fail the run: %v", err)
	}
	setup, run, good := summary.Forums[0], summary.Forums[1], summary.Forums[2]
	if !errors.Is(setup.Err, boom) || setup.Checkpoint.State != model.StateAborted || setup.Checkpoint.AbortReason != "boom" {
		t.Errorf("setup failure outcome = %+v", setup)
	}
	if !errors.Is(run.Err, boom) || run.Checkpoint.State != model.StateAborted {
		t.Errorf("run failure outcome = %+v", run)
	}
	if good.Err != nil || good.Checkpoint.State != model.StateDone {
		t.Errorf("good forum outcome = %+v", good)
	}
}

func TestRunnerResume(t *testing.T) {
	t.Parallel()

	saved := mapCheckpoints{
		"done":    {RunID: "old", ForumKey: "done", State: model.StateDone},
		"partial": {RunID: "old", ForumKey: "partial", State: model.StateRunning, NextURL: "http://x/list?p=3", Page: 2},
	}
	var mu sync.Mutex
	got := map[string]*model.Checkpoint{}
	r := NewRunner("new", func(job Job) (ForumCrawler, error) {
		return crawlerFunc(func(_ context.Context, cp *model.Checkpoint) (*model.Checkpoint, error) {
			mu.Lock()
			got[job.Forum.Key] = cp.Clone()
			mu.Unlock()
			cp = cp.Clone()
			cp.State = model.StateDone
			return cp, nil
		}), nil
	}, WithResume(saved))

	summary, err := r.Run(context.Background(), jobs(config.EngineProtocol, "done", "partial", "fresh"))
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Forums[0].Skipped {
		t.Error("finished forum was not skipped")
	}
	if _, ran := got["done"]; ran {
		t.Error("finished forum was crawled again")
	}
	if cp := got["partial"]; cp == nil || cp.NextURL != "http://x/list?p=3" || cp.RunID != "old" {
		t.Errorf("partial forum did not resume from its checkpoint: %+v", cp)
	}
	if cp := got["fresh"]; cp == nil || cp.RunID != "new" || cp.State != model.StatePending {
		t.Errorf("fresh forum checkpoint = %+v", cp)
	}
}

func TestRunnerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan string, 3)
	r := NewRunner("run", func(job Job) (ForumCrawler, error) {
		return &stubCrawler{job: job, delay: time.Hour, started: started}, nil
	})

	go func() {
		<-started
		cancel()
	}()
	summary, err := r.Run(ctx, jobs(config.EngineProtocol, "a", "b"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !summary.Interrupted {
		t.Error("summary not marked interrupted")
	}
	first, second := summary.Forums[0], summary.Forums[1]
	if first.Checkpoint.State != model.StateRunning || !errors.Is(first.Err, context.Canceled) {
		t.Errorf("interrupted forum outcome = %+v", first)
	}
	if second.Checkpoint.State != model.StatePending || !errors.Is(second.Err, context.Canceled) {
		t.Errorf("unstarted forum outcome = %+v", second)
	}
}

func TestWithConcurrencyIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	r := NewRunner("run", nil, WithConcurrency(0))
	if r.concurrency != config.DefaultConcurrency {
		t.Errorf("concurrency = %d", r.concurrency)
	}
	r = NewRunner("run", nil, WithConcurrency(3))
	if r.concurrency != 3 {
		t.Errorf("concurrency = %d", r.concurrency)
	}
}

type crawlerFunc func(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error)

func (f crawlerFunc) Run(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error) {
	return f(ctx, cp)
}
