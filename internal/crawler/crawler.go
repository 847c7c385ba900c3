package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/fetch"
	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/quarantine"
	"github.com/nao1215/darkwatch/internal/selector"
	"github.com/nao1215/darkwatch/internal/sink"
)

// Counter labels for failures that are not fetch failures.
const (
	LabelParse = "parse"
	LabelSink  = "sink"
)

// PostSink receives extracted posts.
type PostSink interface {
	Emit(ctx context.Context, post *model.Post) (sink.Result, error)
}

// AttachmentStore quarantines attachments.
type AttachmentStore interface {
	Store(ctx context.Context, dl fetch.Downloader, ref model.AttachmentRef) (*model.QuarantineRecord, error)
}

// IndicatorExtractor finds indicators in post content.
type IndicatorExtractor interface {
	Extract(text string) []model.Indicator
}

// CheckpointSaver persists checkpoints.
type CheckpointSaver interface {
	Save(cp *model.Checkpoint) error
}

// Options are the traversal limits of one forum.
type Options struct {
	// MaxPages caps listing pages per listing URL.
	MaxPages int
	// MaxAttempts is the number of tries per page, including the first.
	MaxAttempts int
	// RetryBackoff is the first retry delay; later delays double.
	RetryBackoff time.Duration
	// CrawlDelay is the minimum gap between two requests to the forum.
	CrawlDelay time.Duration
	// MaxConsecutiveErrors aborts the forum once more pages than this fail
	// in a row.
	MaxConsecutiveErrors int
}

// OptionsFromConfig returns the limits for forum.
func OptionsFromConfig(cfg *config.Config, forum config.ForumConfig) Options {
	return Options{
		MaxPages:             cfg.MaxPagesFor(forum),
		MaxAttempts:          cfg.MaxRetries,
		RetryBackoff:         cfg.RetryBackoff,
		CrawlDelay:           cfg.CrawlDelay,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}
}

// ForumCrawler crawls one forum. It is not safe for concurrent use; run one
// per forum.
//
// Design decision: Pages of a forum are fetched one at a time. Concurrency
// lives one level up, where the pipeline runs several forums in parallel.
// Within a forum, sequential fetching keeps pagination order and leaves the
// checkpoint a single position instead of a set of in-flight pages.
type ForumCrawler struct {
	forum       config.ForumConfig
	engine      fetch.Engine
	parser      *Parser
	opts        Options
	sink        PostSink
	attachments AttachmentStore
	downloader  fetch.Downloader
	checkpoints CheckpointSaver
	indicators  IndicatorExtractor
	limiter     *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time

	seenThreads map[string]struct{}
}

// Option configures a ForumCrawler.
type Option func(*ForumCrawler)

// WithAttachments enables attachment collection. Attachments are downloaded
// with dl and handed to store.
func WithAttachments(store AttachmentStore, dl fetch.Downloader) Option {
	return func(c *ForumCrawler) {
		c.attachments = store
		c.downloader = dl
	}
}

// WithCheckpoints saves progress to saver.
func WithCheckpoints(saver CheckpointSaver) Option {
	return func(c *ForumCrawler) {
		c.checkpoints = saver
	}
}

// WithIndicators attaches the indicators x finds in each post's content
// before the post is emitted.
func WithIndicators(x IndicatorExtractor) Option {
	return func(c *ForumCrawler) {
		c.indicators = x
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ForumCrawler) {
		c.logger = logger
	}
}

// WithClock sets the clock used for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *ForumCrawler) {
		c.now = now
	}
}

// New returns a crawler for forum that fetches pages with engine and emits
// posts to out. The forum's selectors are compiled here.
func New(forum config.ForumConfig, engine fetch.Engine, out PostSink, opts Options, options ...Option) (*ForumCrawler, error) {
	sel, err := selector.CompileForum(forum.Selectors)
	if err != nil {
		return nil, fmt.Errorf("forum %s: %w", forum.Key, err)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = config.DefaultRetryBackoff
	}

	limit := rate.Inf
	if opts.CrawlDelay > 0 {
		limit = rate.Every(opts.CrawlDelay)
	}

	c := &ForumCrawler{
		forum:       forum,
		engine:      engine,
		parser:      NewParser(forum.Key, sel),
		opts:        opts,
		sink:        out,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      slog.Default(),
		now:         time.Now,
		seenThreads: make(map[string]struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With("forum", forum.Key, "engine", engine.Kind().String())
	return c, nil
}

// Run crawls the forum starting from cp and returns the final checkpoint.
// A nil cp starts from the first listing URL. A finished cp is returned
// unchanged.
//
// Page, thread and attachment failures are counted in the checkpoint and do
// not make Run fail. Run returns an error only when ctx is done, in which
// case the returned checkpoint is in the running state and can be resumed,
// or when the sink cannot write, in which case the forum is aborted.
func (c *ForumCrawler) Run(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error) {
	if cp == nil {
		cp = model.NewCheckpoint("", c.forum.Key)
	}
	cp = cp.Clone()
	if cp.Finished() {
		return cp, nil
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = c.now().UTC()
	}
	cp.Engine = c.engine.Kind().String()
	cp.State = model.StateRunning
	c.logger.Info("forum crawl started", "list_index", cp.ListIndex, "next_url", cp.NextURL)

	for cp.ListIndex < len(c.forum.ListURLs) {
		if err := c.crawlChain(ctx, cp); err != nil {
			return c.stop(cp, err)
		}
		if cp.State == model.StateAborted {
			c.save(cp)
			return cp, nil
		}
		cp.ListIndex++
		cp.NextURL = ""
		cp.Page = 0
		c.save(cp)
	}

	cp.State = model.StateDone
	c.save(cp)
	c.logger.Info("forum crawl finished",
		"pages", cp.Counters.PagesFetched,
		"posts", cp.Counters.PostsExtracted,
		"errors", cp.Counters.TotalErrors(),
	)
	return cp, nil
}

// crawlChain follows one listing URL through its next-page links.
func (c *ForumCrawler) crawlChain(ctx context.Context, cp *model.Checkpoint) error {
	pageURL := cp.NextURL
	if pageURL == "" {
		pageURL = c.forum.ListURLs[cp.ListIndex]
		cp.Page = 0
	}
	visited := make(map[string]struct{})

	for pageURL != "" {
		if c.opts.MaxPages > 0 && cp.Page >= c.opts.MaxPages {
			c.logger.Debug("page cap reached", "pages", cp.Page)
			return nil
		}
		if _, ok := visited[pageURL]; ok {
			c.logger.Debug("listing page repeats, stopping", "url", pageURL)
			return nil
		}
		visited[pageURL] = struct{}{}
		cp.NextURL = pageURL

		res, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.pageFailed(cp, pageURL, fetch.KindLabel(err), err)
			return nil
		}
		cp.Counters.PagesFetched++
		cp.ConsecutiveErrors = 0

		listing, err := c.parser.ParseListing(finalURL(res, pageURL), res.Body)
		if err != nil {
			cp.Page++
			c.pageFailed(cp, pageURL, LabelParse, err)
			return nil
		}
		c.logger.Debug("listing page parsed", "url", pageURL, "threads", len(listing.Threads), "next", listing.NextURL)
		if len(listing.Threads) == 0 {
			c.logger.Warn("no thread links matched on listing page",
				"url", pageURL, "selectors", c.parser.sel.ThreadLink.String())
		}

		for _, thread := range listing.Threads {
			if _, ok := c.seenThreads[thread.Permalink]; ok {
				continue
			}
			c.seenThreads[thread.Permalink] = struct{}{}
			cp.Counters.ThreadsDiscovered++

			if err := c.crawlThread(ctx, cp, thread); err != nil {
				return err
			}
			if cp.State == model.StateAborted {
				return nil
			}
		}

		cp.Page++
		pageURL = listing.NextURL
		cp.NextURL = pageURL
		c.save(cp)
	}
	return nil
}

// crawlThread fetches one thread page and emits its posts.
func (c *ForumCrawler) crawlThread(ctx context.Context, cp *model.Checkpoint, thread model.Thread) error {
	res, err := c.fetchPage(ctx, thread.Permalink)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.pageFailed(cp, thread.Permalink, fetch.KindLabel(err), err)
		return nil
	}
	cp.Counters.PagesFetched++
	cp.ConsecutiveErrors = 0

	page, err := c.parser.ParseThread(thread, finalURL(res, thread.Permalink), res.Body, c.now().UTC(), c.attachments != nil)
	if err != nil {
		c.pageFailed(cp, thread.Permalink, LabelParse, err)
		return nil
	}
	if len(page.Posts) == 0 {
		c.logger.Warn("no posts matched on thread page",
			"url", thread.Permalink, "selectors", c.parser.sel.PostContainer.String())
	}

	for _, post := range page.Posts {
		cp.Counters.PostsExtracted++
		cp.Counters.FieldsMissing += len(post.Missing)
		if len(post.Missing) > 0 {
			c.logger.Debug("post has missing fields", "thread", thread.Permalink, "missing", post.Missing)
		}

		if c.indicators != nil {
			post.Indicators = c.indicators.Extract(post.Content)
			cp.Counters.IndicatorsFound += len(post.Indicators)
		}

		result, err := c.sink.Emit(ctx, post)
		if err != nil {
			cp.Counters.AddError(LabelSink)
			cp.State = model.StateAborted
			cp.AbortReason = "output write failed: " + err.Error()
			return fmt.Errorf("forum %s: %w", c.forum.Key, err)
		}
		if result == sink.DuplicateSkipped {
			cp.Counters.PostsDuplicate++
		}

		for _, ref := range post.Attachments {
			if err := c.storeAttachment(ctx, cp, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// storeAttachment quarantines one attachment. Only cancellation is
// returned; rejections and failures are counted.
func (c *ForumCrawler) storeAttachment(ctx context.Context, cp *model.Checkpoint, ref model.AttachmentRef) error {
	rec, err := c.attachments.Store(ctx, &limitedDownloader{dl: c.downloader, limiter: c.limiter}, ref)
	switch {
	case err == nil:
		cp.Counters.AttachmentsQuarantined++
		c.logger.Debug("attachment stored", "url", ref.URL, "path", rec.StoredPath, "duplicate", rec.Duplicate)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, quarantine.ErrPolicyRejected):
		cp.Counters.AddRejection(string(quarantine.ReasonOf(err)))
		c.logger.Info("attachment rejected", "url", ref.URL, "reason", quarantine.ReasonOf(err), "error", err)
		return nil
	default:
		cp.Counters.AddRejection(string(quarantine.ReasonFetchFailed))
		c.logger.Warn("attachment failed", "url", ref.URL, "error", err)
		return nil
	}
}

// fetchPage fetches rawURL, retrying transient failures with exponential
// backoff. Every attempt waits for the forum's rate limiter.
func (c *ForumCrawler) fetchPage(ctx context.Context, rawURL string) (*fetch.Result, error) {
	backoff := retry.WithMaxRetries(uint64(c.opts.MaxAttempts-1), retry.NewExponential(c.opts.RetryBackoff)) //nolint:gosec // MaxAttempts >= 1
	attempt := 0
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*fetch.Result, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		res, err := c.engine.Fetch(ctx, rawURL)
		if err == nil {
			return res, nil
		}
		if fetch.IsRetryable(err) && attempt < c.opts.MaxAttempts {
			c.logger.Debug("fetch failed, retrying", "url", rawURL, "attempt", attempt, "error", err)
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
}

// pageFailed counts a page that failed for good and aborts the forum once
// the consecutive error threshold is exceeded.
func (c *ForumCrawler) pageFailed(cp *model.Checkpoint, rawURL, label string, err error) {
	cp.Counters.AddError(label)
	cp.ConsecutiveErrors++
	c.logger.Warn("page skipped", "url", rawURL, "kind", label, "error", err)

	if c.opts.MaxConsecutiveErrors > 0 && cp.ConsecutiveErrors > c.opts.MaxConsecutiveErrors {
		cp.State = model.StateAborted
		cp.AbortReason = fmt.Sprintf("%d consecutive page failures, last: %v", cp.ConsecutiveErrors, err)
		c.logger.Error("forum aborted", "reason", cp.AbortReason)
	}
}

// stop records the checkpoint of an interrupted or failed run.
func (c *ForumCrawler) stop(cp *model.Checkpoint, err error) (*model.Checkpoint, error) {
	if cp.State != model.StateAborted {
		cp.State = model.StateRunning
		c.logger.Warn("forum crawl interrupted", "next_url", cp.NextURL, "error", err)
	}
	c.save(cp)
	return cp, err
}

func (c *ForumCrawler) save(cp *model.Checkpoint) {
	cp.UpdatedAt = c.now().UTC()
	if c.checkpoints == nil {
		return
	}
	if err := c.checkpoints.Save(cp); err != nil {
		c.logger.Warn("failed to save checkpoint", "error", err)
	}
}

// finalURL is the URL relative links on res resolve against.
func finalURL(res *fetch.Result, requested string) string {
	if res.FinalURL != "" {
		return res.FinalURL
	}
	return requested
}

// limitedDownloader makes attachment downloads wait for the forum's rate
// limiter.
type limitedDownloader struct {
	dl      fetch.Downloader
	limiter *rate.Limiter
}

func (l *limitedDownloader) Download(ctx context.Context, rawURL string, maxBytes int64) (*fetch.Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.dl.Download(ctx, rawURL, maxBytes)
}
