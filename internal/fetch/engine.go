package fetch

import (
	"context"
	"time"

	"github.com/nao1215/darkwatch/internal/config"
)

// Result is a successful fetch. It is consumed by extraction and dropped;
// it is never persisted.
type Result struct {
	// URL is the URL that was requested.
	URL string
	// FinalURL is the URL after redirects.
	FinalURL string
	// StatusCode is the HTTP status of the final response. The rendering
	// engine reports 0 when the browser did not expose one.
	StatusCode int
	// ContentType is the response media type.
	ContentType string
	// Filename is the name from a Content-Disposition header, if any.
	Filename string
	// Body is the raw body, never longer than the size cap.
	Body []byte
	// Elapsed is the wall time of the fetch including redirects.
	Elapsed time.Duration
}

// Engine fetches forum pages.
type Engine interface {
	// Fetch retrieves rawURL. Failures are *Error values.
	Fetch(ctx context.Context, rawURL string) (*Result, error)
	// Kind names the engine variant.
	Kind() config.Engine
}

// Downloader fetches raw attachment bytes.
type Downloader interface {
	// Download retrieves rawURL, failing with ErrOversizedBody once more than
	// maxBytes would be read.
	Download(ctx context.Context, rawURL string, maxBytes int64) (*Result, error)
}

// Options are the limits shared by both engines.
type Options struct {
	Timeout       time.Duration
	RenderTimeout time.Duration
	RenderIdle    time.Duration
	RenderDelay   time.Duration
	MaxBodySize   int64
	MaxRedirects  int
	UserAgent     string
	BrowserBin    string
	Stealth       bool
}

// OptionsFromConfig copies the fetch limits out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:       cfg.Timeout,
		RenderTimeout: cfg.RenderTimeout,
		RenderIdle:    cfg.RenderIdle,
		RenderDelay:   cfg.RenderDelay,
		MaxBodySize:   cfg.MaxBodySize,
		MaxRedirects:  cfg.MaxRedirects,
		UserAgent:     cfg.UserAgent,
		BrowserBin:    cfg.BrowserBin,
		Stealth:       cfg.Stealth,
	}
}
