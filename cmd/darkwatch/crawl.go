package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nao1215/darkwatch/internal/checkpoint"
	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/crawler"
	"github.com/nao1215/darkwatch/internal/database"
	"github.com/nao1215/darkwatch/internal/fetch"
	"github.com/nao1215/darkwatch/internal/indicator"
	darklog "github.com/nao1215/darkwatch/internal/log"
	"github.com/nao1215/darkwatch/internal/pipeline"
	"github.com/nao1215/darkwatch/internal/quarantine"
	"github.com/nao1215/darkwatch/internal/report"
	"github.com/nao1215/darkwatch/internal/sink"
	"github.com/nao1215/darkwatch/internal/tor"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured forums",
		Long: `Crawl walks each selected forum's listing pages, follows thread links and
extracts posts with the forum's selectors.

Posts are appended to crawl.jsonl in the output directory; a post already
recorded by an earlier run is skipped. Progress is saved to checkpoint.json
after every listing page, so an interrupted run can be continued with
--resume.

With --attachments, attachment links found in posts are downloaded through
the protocol client, renamed with a .quarantine suffix and listed in
quarantine/manifest.jsonl. They are never opened.

Indicators found in post content (e-mail and onion addresses, wallet
addresses, chat invites, CVE ids and IPv4 addresses) are attached to each
post record. Limit the kinds with --indicators, or disable them with
--indicators none.

Examples:
  # Crawl every forum in ./darkwatch.yaml
  darkwatch crawl

  # Crawl two forums, three listing pages each
  darkwatch crawl --forums dread,pitch --max-pages 3

  # Force the headless browser for every forum
  darkwatch crawl --engine rendering-engine

  # Quarantine attachments up to 10 MB and pack them into an encrypted zip
  darkwatch crawl --attachments --max-size 10MB --zip --zip-password "$PASS"

  # Continue an interrupted run
  darkwatch crawl --resume`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	// Forum selection
	cmd.Flags().StringP("config", "c", "",
		"Forum configuration file (default: ./darkwatch.yaml, then the XDG config directory)")
	cmd.Flags().StringSliceP("forums", "f", nil,
		"Forum keys to crawl (default: every forum in the configuration file)")
	cmd.Flags().StringP("engine", "e", string(config.EngineAuto),
		"Fetch engine: auto, protocol-client or rendering-engine")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Listing pages per listing URL, unless the forum sets max_pages")

	// Tor routing
	cmd.Flags().Bool("tor", true,
		"Route traffic through the Tor SOCKS listeners (disable only for test mirrors)")
	cmd.Flags().String("proxy-host", config.DefaultProxyHost,
		"Host of the Tor SOCKS listeners")
	cmd.Flags().Int("protocol-port", config.DefaultProtocolProxyPort,
		"SOCKS port used by the protocol client")
	cmd.Flags().Int("render-port", config.DefaultRenderProxyPort,
		"SOCKS port used by the rendering engine")

	// Fetch behaviour
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each network fetch")
	cmd.Flags().Duration("render-timeout", config.DefaultRenderTimeout,
		"Time a rendered page may take to settle after navigation")
	cmd.Flags().Duration("render-idle", config.DefaultRenderIdle,
		"Network quiet period that marks a rendered page as settled")
	cmd.Flags().Duration("render-delay", config.DefaultRenderDelay,
		"Fixed wait after a rendered page settles")
	cmd.Flags().String("browser", "",
		"Chromium binary for the rendering engine (default: find or download one)")
	cmd.Flags().Bool("stealth", false,
		"Hide headless browser fingerprints in the rendering engine")
	cmd.Flags().String("max-body", humanize.Bytes(config.DefaultMaxBodySize),
		"Largest page body accepted, e.g. 3MB")
	cmd.Flags().Int("max-redirects", config.DefaultMaxRedirects,
		"Redirects followed by the protocol client")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent by both engines")
	cmd.Flags().Duration("crawl-delay", config.DefaultCrawlDelay,
		"Minimum gap between two requests to one forum")
	cmd.Flags().Int("retries", config.DefaultMaxRetries,
		"Attempts per page for transient failures")
	cmd.Flags().Duration("retry-backoff", config.DefaultRetryBackoff,
		"First retry delay; later delays double")
	cmd.Flags().Int("max-errors", config.DefaultMaxConsecutiveErrors,
		"Abort a forum after this many failed pages in a row")

	// Scheduling
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Forums crawled at once; the rendering engine is always used by one forum at a time")
	cmd.Flags().Duration("run-timeout", 0,
		"Stop the run after this long and leave a resumable checkpoint (0: no limit)")

	// Output
	cmd.Flags().StringP("output-dir", "d", config.XDGDataDir(),
		"Directory for the post log, checkpoint and quarantine")
	cmd.Flags().String("db", "",
		"Also store posts in this SQLite database")
	cmd.Flags().BoolP("resume", "r", false,
		"Continue unfinished forums from the checkpoint in the output directory")

	// Attachments
	cmd.Flags().BoolP("attachments", "a", false,
		"Download attachments into the quarantine")
	cmd.Flags().String("quarantine-dir", "",
		"Quarantine directory (default: <output-dir>/quarantine)")
	cmd.Flags().String("max-size", humanize.Bytes(config.DefaultAttachmentMaxSize),
		"Largest attachment accepted, e.g. 20MB")
	cmd.Flags().Int("max-per-thread", config.DefaultAttachmentMaxPerThread,
		"Attachments quarantined per thread")
	cmd.Flags().Bool("same-host", false,
		"Reject attachments hosted elsewhere than their thread")
	cmd.Flags().String("size-rule", string(config.SizeRuleStricter),
		"Attachment size checked against --max-size: stricter, declared or observed")
	cmd.Flags().Bool("zip", false,
		"Pack this run's quarantined files into an AES-256 encrypted zip")
	cmd.Flags().String("zip-password", "",
		"Passphrase for --zip (default: $DARKWATCH_ZIP_PASSWORD)")

	// Indicators
	cmd.Flags().StringSlice("indicators", []string{"all"},
		"Indicator kinds to extract from posts: all, none, or a list of email, onion, bitcoin, litecoin, ethereum, monero, telegram, discord, cve, ipv4")

	// Report
	cmd.Flags().BoolP("json", "j", false,
		"Output the run summary as JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the run summary as Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("report-file", "o", "",
		"Write the run summary to this file instead of stdout")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer, err := darklog.New(darklog.Options{
		Verbose: cfg.Verbose,
		JSON:    globalBool(cmd, "log-json"),
		File:    cfg.LogFile,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	return runCrawl(ctx, cfg, cmd.OutOrStdout(), logger)
}

// buildConfig creates a Config from cobra command flags and loads the
// forum file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()
	var err error

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	if cfg.ForumKeys, err = flags.GetStringSlice("forums"); err != nil {
		return nil, err
	}
	engine, err := flags.GetString("engine")
	if err != nil {
		return nil, err
	}
	if cfg.Engine, err = config.ParseEngine(engine); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
		return nil, err
	}

	if cfg.UseTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.ProxyHost, err = flags.GetString("proxy-host"); err != nil {
		return nil, err
	}
	if cfg.ProtocolProxyPort, err = flags.GetInt("protocol-port"); err != nil {
		return nil, err
	}
	if cfg.RenderProxyPort, err = flags.GetInt("render-port"); err != nil {
		return nil, err
	}

	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.RenderTimeout, err = flags.GetDuration("render-timeout"); err != nil {
		return nil, err
	}
	if cfg.RenderIdle, err = flags.GetDuration("render-idle"); err != nil {
		return nil, err
	}
	if cfg.RenderDelay, err = flags.GetDuration("render-delay"); err != nil {
		return nil, err
	}
	if cfg.BrowserBin, err = flags.GetString("browser"); err != nil {
		return nil, err
	}
	if cfg.Stealth, err = flags.GetBool("stealth"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = byteSizeFlag(cmd, "max-body"); err != nil {
		return nil, err
	}
	if cfg.MaxRedirects, err = flags.GetInt("max-redirects"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.CrawlDelay, err = flags.GetDuration("crawl-delay"); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = flags.GetInt("retries"); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = flags.GetDuration("retry-backoff"); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveErrors, err = flags.GetInt("max-errors"); err != nil {
		return nil, err
	}

	if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = flags.GetDuration("run-timeout"); err != nil {
		return nil, err
	}

	if cfg.OutputDir, err = flags.GetString("output-dir"); err != nil {
		return nil, err
	}
	if cfg.DBPath, err = flags.GetString("db"); err != nil {
		return nil, err
	}
	if cfg.Resume, err = flags.GetBool("resume"); err != nil {
		return nil, err
	}

	if cfg.CollectAttachments, err = flags.GetBool("attachments"); err != nil {
		return nil, err
	}
	if cfg.QuarantineDir, err = flags.GetString("quarantine-dir"); err != nil {
		return nil, err
	}
	if cfg.AttachmentMaxSize, err = byteSizeFlag(cmd, "max-size"); err != nil {
		return nil, err
	}
	if cfg.AttachmentMaxPerThread, err = flags.GetInt("max-per-thread"); err != nil {
		return nil, err
	}
	if cfg.SameHost, err = flags.GetBool("same-host"); err != nil {
		return nil, err
	}
	rule, err := flags.GetString("size-rule")
	if err != nil {
		return nil, err
	}
	if cfg.SizeRule, err = config.ParseSizeRule(rule); err != nil {
		return nil, err
	}
	if cfg.ZipQuarantine, err = flags.GetBool("zip"); err != nil {
		return nil, err
	}
	if cfg.ZipPassword, err = flags.GetString("zip-password"); err != nil {
		return nil, err
	}
	if cfg.ZipPassword == "" {
		cfg.ZipPassword = os.Getenv("DARKWATCH_ZIP_PASSWORD")
	}

	if cfg.Indicators, err = flags.GetStringSlice("indicators"); err != nil {
		return nil, err
	}
	if _, err := indicator.ParseKinds(cfg.Indicators); err != nil {
		return nil, err
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("report-file"); err != nil {
		return nil, err
	}

	cfg.Verbose = globalBool(cmd, "verbose")
	cfg.LogFile = globalString(cmd, "log-file")

	// An explicit --config must exist; otherwise the usual places are tried.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	if configPath == "" {
		if cfg.ConfigFilePath != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
		}
		return nil, fmt.Errorf("%w (run \"darkwatch init\" to create %s)", config.ErrConfigNotFound, config.DefaultConfigFile)
	}
	if cfg.ForumFile, err = config.LoadConfigFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}
	cfg.ConfigFilePath = configPath

	return cfg, nil
}

// globalBool retrieves a persistent root flag from the command or its
// parent. A command run without the root reads false.
func globalBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// globalString is globalBool for string flags.
func globalString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetString(name)
		if err != nil {
			return ""
		}
	}
	return v
}

// byteSizeFlag parses a human readable size such as "20MB" or "1.5 GiB".
func byteSizeFlag(cmd *cobra.Command, name string) (int64, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return 0, err
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return int64(n), nil //nolint:gosec // sizes beyond MaxInt64 are not meaningful
}

// runCrawl executes the crawl run described by cfg and writes the summary
// to stdout or the report file.
func runCrawl(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) (err error) {
	forums, err := cfg.ForumFile.Select(cfg.ForumKeys)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	for _, forum := range forums {
		for _, u := range forum.ListURLs {
			if err := tor.CheckURL(u); err != nil {
				return fmt.Errorf("forum %s: %w", forum.Key, err)
			}
		}
	}

	cfg.ResolvePaths()
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	jobs := make([]pipeline.Job, 0, len(forums))
	engines := make([]config.Engine, 0, len(forums)+1)
	for _, forum := range forums {
		engine := config.ResolveEngine(cfg.Engine, forum.Engine)
		jobs = append(jobs, pipeline.Job{Forum: forum, Engine: engine})
		engines = append(engines, engine)
	}
	if cfg.CollectAttachments {
		engines = append(engines, config.EngineProtocol)
	}

	router := tor.NewRouter(cfg, tor.WithRouterLogger(logger))
	if router.Enabled() {
		router.CheckEndpoints(ctx, engines...)
	}

	engineSet := fetch.NewSet(router, fetch.OptionsFromConfig(cfg), logger)
	defer func() {
		if cerr := engineSet.Close(); cerr != nil {
			logger.Warn("failed to close browser", "error", cerr)
		}
	}()

	posts, db, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := posts.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close post log: %w", cerr)
		}
	}()

	runID := uuid.NewString()
	var store *checkpoint.Store
	if cfg.Resume {
		if store, err = checkpoint.Open(cfg.CheckpointPath, runID); err != nil {
			return err
		}
		runID = store.RunID()
	} else {
		store = checkpoint.New(cfg.CheckpointPath, runID)
	}
	logger = logger.With("run_id", runID)

	var q *quarantine.Quarantine
	if cfg.CollectAttachments {
		q, err = quarantine.New(cfg.QuarantineDir, quarantine.PolicyFromConfig(cfg),
			quarantine.WithLogger(logger),
			quarantine.WithRecorder(posts.RecordQuarantine),
		)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := q.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close quarantine manifest: %w", cerr)
			}
		}()
	}

	kinds, err := indicator.ParseKinds(cfg.Indicators)
	if err != nil {
		return err
	}
	var extractor *indicator.Extractor
	if len(kinds) > 0 {
		extractor = indicator.New(kinds...)
	}

	factory := func(job pipeline.Job) (pipeline.ForumCrawler, error) {
		engine, err := engineSet.ForForum(job.Engine, job.Forum)
		if err != nil {
			return nil, err
		}
		options := []crawler.Option{
			crawler.WithCheckpoints(store),
			crawler.WithLogger(logger),
		}
		if extractor != nil {
			options = append(options, crawler.WithIndicators(extractor))
		}
		if q != nil {
			dl, err := engineSet.Downloader(job.Forum)
			if err != nil {
				return nil, err
			}
			options = append(options, crawler.WithAttachments(q, dl))
		}
		c, err := crawler.New(job.Forum, engine, posts, crawler.OptionsFromConfig(cfg, job.Forum), options...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	runnerOpts := []pipeline.Option{
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithLogger(logger),
	}
	if cfg.Resume {
		runnerOpts = append(runnerOpts, pipeline.WithResume(store))
	}
	summary, runErr := pipeline.NewRunner(runID, factory, runnerOpts...).Run(ctx, jobs)

	outputs := report.Outputs{
		PostLog:    posts.LogPath(),
		Database:   cfg.DBPath,
		Checkpoint: store.Path(),
	}
	if q != nil {
		outputs.QuarantineDir = q.Root()
		if cfg.ZipQuarantine {
			archive, err := q.Archive(runID, cfg.ZipPassword)
			if err != nil {
				logger.Error("failed to archive quarantine", "error", err)
			} else {
				outputs.Archive = archive
			}
		}
	}

	run := report.FromSummary(summary, getVersion(), outputs)
	if db != nil {
		// Interrupted runs still report, so the totals use a live context.
		stored, serr := storedTotals(context.WithoutCancel(ctx), db)
		if serr != nil {
			logger.Warn("failed to read database totals", "error", serr)
		}
		run.Stored = stored
	}
	if err := outputReport(cfg, stdout, run); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("crawl interrupted, resume with --resume: %w", runErr)
	}
	return nil
}

// openSink opens the post log and, when configured, the database behind it.
// The sink owns the database and closes it.
func openSink(cfg *config.Config, logger *slog.Logger) (*sink.Sink, *database.PostDB, error) {
	opts := []sink.Option{sink.WithLogger(logger)}

	var db *database.PostDB
	if cfg.DBPath != "" {
		var err error
		db, err = database.Open(cfg.DBPath, database.DefaultOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		opts = append(opts, sink.WithStore(db))
	}

	posts, err := sink.Open(cfg.OutputLog, opts...)
	if err != nil {
		if db != nil {
			err = errors.Join(err, db.Close())
		}
		return nil, nil, fmt.Errorf("failed to open post log: %w", err)
	}
	return posts, db, nil
}

// storedTotals counts every record the database holds.
func storedTotals(ctx context.Context, db *database.PostDB) (*report.Stored, error) {
	var (
		st  report.Stored
		err error
	)
	if st.Posts, err = db.CountPosts(ctx, ""); err != nil {
		return nil, err
	}
	if st.Quarantined, err = db.CountQuarantined(ctx, ""); err != nil {
		return nil, err
	}
	if st.Indicators, err = db.CountIndicators(ctx, ""); err != nil {
		return nil, err
	}
	return &st, nil
}

// outputReport writes the run summary in the requested format.
func outputReport(cfg *config.Config, stdout io.Writer, run *report.Run) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create report directory: %w", err)
			}
		}
		// Reports name forums and output paths, so keep them private.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		output = f
	}

	format := report.FormatText
	switch {
	case cfg.JSONReport:
		format = report.FormatJSON
	case cfg.MarkdownReport:
		format = report.FormatMarkdown
	}
	_, err := report.NewWriter(format, output).Write(run)
	return err
}
