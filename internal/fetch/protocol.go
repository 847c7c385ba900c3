package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/tor"
)

// ProtocolEngine is the plain HTTP client. One is created per forum so the
// forum's cookie and headers stay in its own jar.
type ProtocolEngine struct {
	client       *http.Client
	cookie       string
	headers      map[string]string
	userAgent    string
	maxBodySize  int64
	maxRedirects int
	logger       *slog.Logger
}

// ProtocolOption configures a ProtocolEngine.
type ProtocolOption func(*ProtocolEngine)

// WithProtocolLogger sets the logger.
func WithProtocolLogger(logger *slog.Logger) ProtocolOption {
	return func(e *ProtocolEngine) {
		e.logger = logger
	}
}

// WithSession sends a forum's cookie and extra headers with every request.
func WithSession(cookie string, headers map[string]string) ProtocolOption {
	return func(e *ProtocolEngine) {
		e.cookie = cookie
		e.headers = headers
	}
}

// NewProtocolEngine returns a protocol client dialing through dialer.
func NewProtocolEngine(dialer *tor.Client, opts Options, options ...ProtocolOption) *ProtocolEngine {
	e := &ProtocolEngine{
		userAgent:    opts.UserAgent,
		maxBodySize:  opts.MaxBodySize,
		maxRedirects: opts.MaxRedirects,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.client = dialer.NewHTTPClient(e.cookie, e.headers)
	return e
}

// Kind implements Engine.
func (e *ProtocolEngine) Kind() config.Engine {
	return config.EngineProtocol
}

// Fetch retrieves an HTML page. Attachment-like URLs, download
// dispositions and non-HTML types are refused with ErrBlockedContent, at
// every redirect hop.
func (e *ProtocolEngine) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	resp, finalURL, err := e.follow(ctx, rawURL, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if isAttachmentDisposition(resp.Header.Get("Content-Disposition")) {
		return nil, newError(ErrBlockedContent, finalURL, errors.New("download disposition"))
	}
	ct := resp.Header.Get("Content-Type")
	if !IsHTMLContentType(ct) {
		return nil, newError(ErrBlockedContent, finalURL, fmt.Errorf("content type %q", ct))
	}

	body, err := readCapped(ctx, finalURL, resp, e.maxBodySize)
	if err != nil {
		return nil, err
	}
	if IsChallengePage(body) {
		return nil, newError(ErrChallengePage, finalURL, nil)
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: mediaType(ct),
		Body:        body,
		Elapsed:     time.Since(start),
	}, nil
}

// Download implements Downloader. Unlike Fetch it accepts any content type
// and reads at most maxBytes.
func (e *ProtocolEngine) Download(ctx context.Context, rawURL string, maxBytes int64) (*Result, error) {
	start := time.Now()

	resp, finalURL, err := e.follow(ctx, rawURL, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readCapped(ctx, finalURL, resp, maxBytes)
	if err != nil {
		return nil, err
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Filename:    dispositionFilename(resp.Header.Get("Content-Disposition")),
		Body:        body,
		Elapsed:     time.Since(start),
	}, nil
}

// follow issues GET requests until a non-redirect response arrives or the
// redirect bound is hit. It returns the final response with its body open.
//
// Design decision: We follow redirects by hand rather than through
// http.Client. A forum link can redirect to a download, so the attachment
// URL check runs again on every hop, and exceeding the bound is reported as
// an HTTP status failure carrying the last redirect code and URL.
func (e *ProtocolEngine) follow(ctx context.Context, rawURL string, page bool) (*http.Response, string, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		if page && IsAttachmentURL(current) {
			return nil, current, newError(ErrBlockedContent, current, errors.New("attachment-like URL"))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, current, newError(ErrNetwork, current, err)
		}
		req.Header.Set("User-Agent", e.userAgent)
		if page {
			req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1")
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, current, classifyTransportError(ctx, current, err)
		}

		if !isRedirect(resp.StatusCode) {
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				drain(resp)
				return nil, current, statusError(current, resp.StatusCode)
			}
			return resp, current, nil
		}

		location := resp.Header.Get("Location")
		drain(resp)
		if location == "" {
			return nil, current, statusError(current, resp.StatusCode)
		}
		if hop >= e.maxRedirects {
			return nil, current, &Error{
				Kind:       ErrHTTPStatus,
				URL:        current,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("stopped after %d redirects", e.maxRedirects),
			}
		}
		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return nil, current, newError(ErrNetwork, current, fmt.Errorf("bad redirect location %q: %w", location, err))
		}
		e.logger.Debug("following redirect", "from", current, "to", next.String())
		current = next.String()
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// drain discards a small remainder of the body so the connection can be
// reused, then closes it.
func drain(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	_ = resp.Body.Close()
}

// readCapped reads the body, failing with ErrOversizedBody when the declared
// length or the bytes actually read exceed limit. Nothing past limit+1 bytes
// is read.
func readCapped(ctx context.Context, url string, resp *http.Response, limit int64) ([]byte, error) {
	if resp.ContentLength > limit {
		return nil, &Error{
			Kind: ErrOversizedBody,
			URL:  url,
			Err:  fmt.Errorf("declared length %d exceeds %d", resp.ContentLength, limit),
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classifyTransportError(ctx, url, err)
	}
	if int64(len(body)) > limit {
		return nil, &Error{
			Kind: ErrOversizedBody,
			URL:  url,
			Err:  fmt.Errorf("body exceeds %d bytes", limit),
		}
	}
	return body, nil
}

// classifyTransportError maps a client error to a failure kind. A cancelled
// run is returned as the context error so callers stop instead of retrying.
func classifyTransportError(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("fetch %s: %w", url, ctxErr)
	}
	if errors.Is(err, tor.ErrProxyCannotConnect) {
		return newError(ErrProxyUnreachable, url, err)
	}
	return newError(ErrNetwork, url, err)
}
