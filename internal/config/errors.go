package config

import "errors"

// Configuration validation errors returned by Config.Validate and the
// forum file loader. Callers test for them with errors.Is.
var (
	// ErrNoForums is returned when no forum definitions are available.
	ErrNoForums = errors.New("no forums configured: add entries under \"forums\" in the config file")

	// ErrUnknownForum is returned when a selected forum key is not defined.
	ErrUnknownForum = errors.New("unknown forum key")

	// ErrInvalidEngine is returned for an engine name that is not recognised.
	ErrInvalidEngine = errors.New("invalid engine: must be auto, protocol-client or rendering-engine")

	// ErrInvalidTimeout is returned when a network or render timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxPages is returned when the page cap is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidConcurrency is returned when the forum concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the page size cap is not positive.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be positive")

	// ErrInvalidRetry is returned when retry settings are negative.
	ErrInvalidRetry = errors.New("invalid retry settings: attempts and backoff must be non-negative")

	// ErrInvalidErrorThreshold is returned when the consecutive error threshold is not positive.
	ErrInvalidErrorThreshold = errors.New("invalid consecutive error threshold: must be positive")

	// ErrInvalidProxyPort is returned when a SOCKS port is outside 1-65535.
	ErrInvalidProxyPort = errors.New("invalid proxy port: must be between 1 and 65535")

	// ErrSharedProxyPort is returned when both engines are given the same SOCKS port.
	ErrSharedProxyPort = errors.New("protocol-client and rendering-engine must use distinct proxy ports")

	// ErrInvalidAttachmentLimit is returned when attachment size or count limits are not positive.
	ErrInvalidAttachmentLimit = errors.New("invalid attachment limit: max size and max per thread must be positive")

	// ErrInvalidSizeRule is returned for an unknown attachment size rule.
	ErrInvalidSizeRule = errors.New("invalid size rule: must be stricter, declared or observed")

	// ErrMissingZipPassword is returned when encrypted packaging is enabled without a passphrase.
	ErrMissingZipPassword = errors.New("encrypted quarantine archive requires a passphrase")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrNoListURLs is returned when a forum has no listing URLs.
	ErrNoListURLs = errors.New("forum has no list_urls")

	// ErrMissingSelector is returned when a forum lacks a required selector list.
	ErrMissingSelector = errors.New("forum is missing a required selector")

	// ErrInvalidSelector is returned when a selector does not compile.
	ErrInvalidSelector = errors.New("invalid CSS selector")

	// ErrInvalidListURL is returned when a listing URL is not an absolute http(s) URL.
	ErrInvalidListURL = errors.New("invalid list URL: must be an absolute http or https URL")
)
