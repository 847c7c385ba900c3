package crawler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/fetch"
	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/sink"
)

// fakeEngine serves canned pages. Unknown URLs answer 404.
type fakeEngine struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string][]error // consumed one per call before serving the page
	always   map[string]error
	calls    map[string]int
	onFetch  func(url string)
}

func newFakeEngine(pages map[string]string) *fakeEngine {
	return &fakeEngine{
		pages:    pages,
		failures: make(map[string][]error),
		always:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeEngine) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	hook := f.onFetch
	var err error
	if e, ok := f.always[rawURL]; ok {
		err = e
	} else if errs := f.failures[rawURL]; len(errs) > 0 {
		err = errs[0]
		f.failures[rawURL] = errs[1:]
	}
	body, found := f.pages[rawURL]
	f.mu.Unlock()

	if hook != nil {
		hook(rawURL)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &fetch.Error{Kind: fetch.ErrHTTPStatus, URL: rawURL, StatusCode: http.StatusNotFound}
	}
	return &fetch.Result{
		URL:         rawURL,
		FinalURL:    rawURL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Body:        []byte(body),
	}, nil
}

func (f *fakeEngine) Kind() config.Engine {
	return config.EngineProtocol
}

func (f *fakeEngine) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

// fakeSink keeps emitted posts and skips repeated dedup keys.
type fakeSink struct {
	mu    sync.Mutex
	posts []*model.Post
	seen  map[string]bool
	err   error
}

func (s *fakeSink) Emit(_ context.Context, post *model.Post) (sink.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sink.Written, s.err
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[post.DedupKey()] {
		return sink.DuplicateSkipped, nil
	}
	s.seen[post.DedupKey()] = true
	s.posts = append(s.posts, post)
	return sink.Written, nil
}

// fakeStore records attachment refs and accepts them all.
type fakeStore struct {
	mu   sync.Mutex
	refs []model.AttachmentRef
	err  error
}

func (s *fakeStore) Store(_ context.Context, _ fetch.Downloader, ref model.AttachmentRef) (*model.QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	if s.err != nil {
		return nil, s.err
	}
	return &model.QuarantineRecord{SourceURL: ref.URL, StoredPath: "/q/" + ref.DeclaredName}, nil
}

// fakeSaver keeps every saved checkpoint.
type fakeSaver struct {
	mu    sync.Mutex
	saved []*model.Checkpoint
}

func (s *fakeSaver) Save(cp *model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, cp.Clone())
	return nil
}

func (s *fakeSaver) last() *model.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

func testForum(key string, listURLs ...string) config.ForumConfig {
	return config.ForumConfig{
		Key:      key,
		Engine:   config.EngineProtocol,
		ListURLs: listURLs,
		Selectors: config.Selectors{
			ThreadLink:      config.SelectorList{"a.thread"},
			NextPage:        config.SelectorList{"a.next"},
			ThreadTitle:     config.SelectorList{"h1.title"},
			PostContainer:   config.SelectorList{"div.post"},
			Content:         config.SelectorList{"div.body"},
			Author:          config.SelectorList{"span.author"},
			Timestamp:       config.SelectorList{"time"},
			Permalink:       config.SelectorList{"a.permalink"},
			AttachmentBlock: config.SelectorList{"div.attach"},
			AttachmentName:  config.SelectorList{"span.name"},
			AttachmentSize:  config.SelectorList{"span.size"},
		},
	}
}

func testOptions() Options {
	return Options{
		MaxPages:             10,
		MaxAttempts:          3,
		RetryBackoff:         time.Millisecond,
		MaxConsecutiveErrors: 10,
	}
}

func newTestCrawler(t *testing.T, forum config.ForumConfig, engine fetch.Engine, out PostSink, opts Options, options ...Option) *ForumCrawler {
	t.Helper()
	fixed := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	options = append([]Option{WithClock(func() time.Time { return fixed })}, options...)
	c, err := New(forum, engine, out, opts, options...)
	if err != nil {
		t.Fatalf("failed to create crawler: %v", err)
	}
	return c
}
