package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/darkwatch/internal/jsonl"
	"github.com/nao1215/darkwatch/internal/model"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("sink is closed")

// Result is the outcome of a successful Emit.
type Result int

const (
	// Written means the post was new and was persisted.
	Written Result = iota
	// DuplicateSkipped means the post was already persisted.
	DuplicateSkipped
)

// String returns the result name.
func (r Result) String() string {
	if r == DuplicateSkipped {
		return "duplicate_skipped"
	}
	return "written"
}

// Store is the optional relational store behind the log.
type Store interface {
	// InsertPost stores post unless its dedup key exists and runs
	// onInserted before committing a new row.
	InsertPost(ctx context.Context, post *model.Post, onInserted func() error) (bool, error)
	// InsertQuarantineRecord stores one manifest entry.
	InsertQuarantineRecord(ctx context.Context, rec *model.QuarantineRecord) error
	Close() error
}

// Sink is the single writer for crawl output.
type Sink struct {
	mu     sync.Mutex
	log    *jsonl.Writer
	store  Store
	seen   map[string]struct{}
	logger *slog.Logger
	closed bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithStore attaches a relational store. The sink owns it and closes it.
func WithStore(store Store) Option {
	return func(s *Sink) {
		s.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// Open opens the post log at logPath for appending.
func Open(logPath string, opts ...Option) (*Sink, error) {
	s := &Sink{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	// Opening first cuts off a record torn by an earlier crash.
	w, err := jsonl.Open(logPath)
	if err != nil {
		return nil, err
	}
	s.log = w

	if s.store == nil {
		existing, err := jsonl.ReadFile[model.Post](logPath)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to read existing post log: %w", err)
		}
		s.seen = make(map[string]struct{}, len(existing))
		for i := range existing {
			s.seen[existing[i].DedupKey()] = struct{}{}
		}
	}
	return s, nil
}

// Emit persists post once. A post seen before returns DuplicateSkipped and
// no error.
func (s *Sink) Emit(ctx context.Context, post *model.Post) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Written, ErrClosed
	}

	if s.store != nil {
		inserted, err := s.store.InsertPost(ctx, post, func() error {
			return s.log.Append(post)
		})
		if err != nil {
			return Written, fmt.Errorf("failed to store post: %w", err)
		}
		if !inserted {
			s.logger.Debug("duplicate post skipped", "forum", post.ForumKey, "key", post.DedupKey())
			return DuplicateSkipped, nil
		}
		return Written, nil
	}

	key := post.DedupKey()
	if _, ok := s.seen[key]; ok {
		s.logger.Debug("duplicate post skipped", "forum", post.ForumKey, "key", key)
		return DuplicateSkipped, nil
	}
	if err := s.log.Append(post); err != nil {
		return Written, err
	}
	s.seen[key] = struct{}{}
	return Written, nil
}

// RecordQuarantine mirrors a manifest entry into the store. It is a no-op
// without a store.
func (s *Sink) RecordQuarantine(ctx context.Context, rec *model.QuarantineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.store == nil {
		return nil
	}
	return s.store.InsertQuarantineRecord(ctx, rec)
}

// LogPath returns the post log path.
func (s *Sink) LogPath() string {
	return s.log.Path()
}

// Close flushes and closes the log and the store.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close post log: %w", err))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
