package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "darkwatch"

	// DefaultProxyHost is where the Tor SOCKS listeners are expected.
	DefaultProxyHost = "127.0.0.1"

	// DefaultProtocolProxyPort is the SOCKS port used by the protocol client.
	// 9150 is the Tor Browser bundle's listener.
	DefaultProtocolProxyPort = 9150

	// DefaultRenderProxyPort is the SOCKS port used by the rendering engine.
	// 9050 is the tor service listener.
	DefaultRenderProxyPort = 9050

	// DefaultTimeout bounds a single network fetch. Hidden services are slow,
	// so this is generous.
	DefaultTimeout = 60 * time.Second

	// DefaultRenderTimeout bounds the wait for a page to finish rendering
	// once navigation has completed.
	DefaultRenderTimeout = 30 * time.Second

	// DefaultRenderIdle is how long the network must stay quiet before a
	// rendered page is considered settled.
	DefaultRenderIdle = 500 * time.Millisecond

	// DefaultRenderDelay is a fixed wait after the page settles, for
	// scripts that populate content on a timer.
	DefaultRenderDelay = 2 * time.Second

	// DefaultMaxPages caps listing pages per forum.
	DefaultMaxPages = 1

	// DefaultMaxBodySize caps page bodies at 3 MB.
	DefaultMaxBodySize = 3_000_000

	// DefaultMaxRedirects bounds redirect chains followed by the protocol client.
	DefaultMaxRedirects = 5

	// DefaultUserAgent is sent by both engines.
	DefaultUserAgent = "Mozilla/5.0 (compatible; DarkWatch/1.0)"

	// DefaultCrawlDelay is the minimum spacing between requests to one forum.
	DefaultCrawlDelay = 1500 * time.Millisecond

	// DefaultMaxRetries is the number of attempts for a transient failure.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the base of the exponential retry backoff.
	DefaultRetryBackoff = 1200 * time.Millisecond

	// DefaultMaxConsecutiveErrors aborts a forum after this many failed
	// fetches in a row.
	DefaultMaxConsecutiveErrors = 10

	// DefaultConcurrency crawls forums one at a time.
	DefaultConcurrency = 1

	// DefaultAttachmentMaxSize caps a quarantined attachment at 20 MB.
	DefaultAttachmentMaxSize = 20_000_000

	// DefaultAttachmentMaxPerThread caps quarantined attachments per thread.
	DefaultAttachmentMaxPerThread = 5

	// DefaultLogFileName is the output record log inside the output directory.
	DefaultLogFileName = "crawl.jsonl"

	// DefaultDBFileName is the relational store inside the output directory.
	DefaultDBFileName = "crawl.db"

	// DefaultCheckpointFileName is the checkpoint file inside the output directory.
	DefaultCheckpointFileName = "checkpoint.json"

	// DefaultQuarantineDirName is the quarantine directory inside the output directory.
	DefaultQuarantineDirName = "quarantine"
)

// Config holds every option of a crawl run. It is built once from defaults
// and CLI flags and passed to the components that need it.
type Config struct {
	// ConfigFilePath is the forum configuration file. When empty the file is
	// searched for, see FindConfigFile.
	ConfigFilePath string

	// ForumFile is the loaded forum configuration.
	ForumFile *File

	// ForumKeys selects forums from ForumFile. Empty selects all of them.
	ForumKeys []string

	// Engine is the global engine choice. Auto defers to each forum.
	Engine Engine

	// MaxPages caps listing pages per forum.
	MaxPages int

	// UseTor routes both engines through their SOCKS endpoints.
	// When false, requests go out directly; only useful against test mirrors.
	UseTor bool

	// ProxyHost is the host of both SOCKS listeners.
	ProxyHost string

	// ProtocolProxyPort is the protocol client's SOCKS port.
	ProtocolProxyPort int

	// RenderProxyPort is the rendering engine's SOCKS port.
	RenderProxyPort int

	// Timeout bounds one network fetch, including navigation in the browser.
	Timeout time.Duration

	// RenderTimeout bounds the post-navigation settle in the browser.
	RenderTimeout time.Duration

	// RenderIdle is the network idle window the browser waits for.
	RenderIdle time.Duration

	// RenderDelay is a fixed wait after the network goes idle.
	RenderDelay time.Duration

	// BrowserBin is an explicit Chromium binary. Empty lets the launcher find
	// or download one.
	BrowserBin string

	// Stealth hides common headless browser fingerprints.
	Stealth bool

	// MaxBodySize caps page bodies in bytes.
	MaxBodySize int64

	// MaxRedirects bounds redirects followed by the protocol client.
	MaxRedirects int

	// UserAgent is sent with every request.
	UserAgent string

	// CrawlDelay is the minimum spacing between requests to one forum.
	CrawlDelay time.Duration

	// MaxRetries is the number of attempts for a transient failure.
	MaxRetries int

	// RetryBackoff is the base of the exponential backoff between attempts.
	RetryBackoff time.Duration

	// MaxConsecutiveErrors aborts a forum after this many failed fetches in a row.
	MaxConsecutiveErrors int

	// Concurrency is the number of forums crawled at once.
	Concurrency int

	// RunTimeout bounds the whole run. Zero means no limit.
	RunTimeout time.Duration

	// OutputDir holds the record log, database, checkpoint and quarantine
	// unless their paths are set explicitly.
	OutputDir string

	// OutputLog is the append-only record log.
	OutputLog string

	// DBPath enables the relational store when set.
	DBPath string

	// CheckpointPath is where per-forum progress is saved.
	CheckpointPath string

	// Resume continues unfinished forums from CheckpointPath.
	Resume bool

	// CollectAttachments enables the attachment quarantine.
	CollectAttachments bool

	// QuarantineDir is the root of the quarantine tree.
	QuarantineDir string

	// AttachmentMaxSize caps one attachment in bytes.
	AttachmentMaxSize int64

	// AttachmentMaxPerThread caps quarantined attachments per thread.
	AttachmentMaxPerThread int

	// SameHost rejects attachments hosted elsewhere than their thread.
	SameHost bool

	// SizeRule selects which attachment size is checked against the cap.
	SizeRule SizeRule

	// ZipQuarantine packs the run's quarantined files into an encrypted archive.
	ZipQuarantine bool

	// ZipPassword is the archive passphrase. It is never logged.
	ZipPassword string

	// Indicators names the indicator kinds extracted from post content.
	// Empty selects every kind; "none" disables extraction.
	Indicators []string

	// Verbose enables debug logging.
	Verbose bool

	// LogFile sends logs to a rotating file instead of stderr.
	LogFile string

	// JSONReport prints the run summary as JSON.
	JSONReport bool

	// MarkdownReport prints the run summary as Markdown.
	MarkdownReport bool

	// ReportFile writes the run summary to a file instead of stdout.
	ReportFile string
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Engine:                 EngineAuto,
		MaxPages:               DefaultMaxPages,
		ProxyHost:              DefaultProxyHost,
		ProtocolProxyPort:      DefaultProtocolProxyPort,
		RenderProxyPort:        DefaultRenderProxyPort,
		Timeout:                DefaultTimeout,
		RenderTimeout:          DefaultRenderTimeout,
		RenderIdle:             DefaultRenderIdle,
		RenderDelay:            DefaultRenderDelay,
		MaxBodySize:            DefaultMaxBodySize,
		MaxRedirects:           DefaultMaxRedirects,
		UserAgent:              DefaultUserAgent,
		CrawlDelay:             DefaultCrawlDelay,
		MaxRetries:             DefaultMaxRetries,
		RetryBackoff:           DefaultRetryBackoff,
		MaxConsecutiveErrors:   DefaultMaxConsecutiveErrors,
		Concurrency:            DefaultConcurrency,
		OutputDir:              XDGDataDir(),
		AttachmentMaxSize:      DefaultAttachmentMaxSize,
		AttachmentMaxPerThread: DefaultAttachmentMaxPerThread,
		SizeRule:               SizeRuleStricter,
	}
}

// XDGDataDir returns the default output directory,
// e.g. ~/.local/share/darkwatch on Linux.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the directory searched for the forum file,
// e.g. ~/.config/darkwatch on Linux.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ResolvePaths fills the output paths left empty from OutputDir.
func (c *Config) ResolvePaths() {
	if c.OutputDir == "" {
		c.OutputDir = XDGDataDir()
	}
	if c.OutputLog == "" {
		c.OutputLog = filepath.Join(c.OutputDir, DefaultLogFileName)
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = filepath.Join(c.OutputDir, DefaultCheckpointFileName)
	}
	if c.QuarantineDir == "" {
		c.QuarantineDir = filepath.Join(c.OutputDir, DefaultQuarantineDirName)
	}
}

// Validate checks the run options and returns the first problem found.
// Forum definitions are validated separately by File.Select.
func (c *Config) Validate() error {
	if c.Engine != EngineAuto && c.Engine != EngineProtocol && c.Engine != EngineRendering {
		return ErrInvalidEngine
	}
	if c.Timeout <= 0 || c.RenderTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.MaxBodySize <= 0 {
		return ErrInvalidMaxBodySize
	}
	if c.MaxRetries < 0 || c.RetryBackoff < 0 || c.MaxRedirects < 0 {
		return ErrInvalidRetry
	}
	if c.MaxConsecutiveErrors <= 0 {
		return ErrInvalidErrorThreshold
	}
	if c.UseTor {
		if !validPort(c.ProtocolProxyPort) || !validPort(c.RenderProxyPort) {
			return ErrInvalidProxyPort
		}
		if c.ProtocolProxyPort == c.RenderProxyPort {
			return ErrSharedProxyPort
		}
	}
	if c.CollectAttachments {
		if c.AttachmentMaxSize <= 0 || c.AttachmentMaxPerThread <= 0 {
			return ErrInvalidAttachmentLimit
		}
		if _, err := ParseSizeRule(string(c.SizeRule)); err != nil {
			return ErrInvalidSizeRule
		}
		if c.ZipQuarantine && c.ZipPassword == "" {
			return ErrMissingZipPassword
		}
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// MaxPagesFor returns the page cap for forum, honouring its override.
func (c *Config) MaxPagesFor(forum ForumConfig) int {
	if forum.MaxPages > 0 {
		return forum.MaxPages
	}
	return c.MaxPages
}
