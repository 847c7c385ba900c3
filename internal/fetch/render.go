package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/tor"
)

// RenderEngine drives one headless Chromium. Every fetch gets a fresh
// incognito context, and only one context exists at a time.
type RenderEngine struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	// contexts admits one browser context at a time across all forums.
	contexts *semaphore.Weighted
	logger   *slog.Logger
}

// RenderOption configures a RenderEngine.
type RenderOption func(*RenderEngine)

// WithRenderLogger sets the logger.
func WithRenderLogger(logger *slog.Logger) RenderOption {
	return func(e *RenderEngine) {
		e.logger = logger
	}
}

// newLauncher builds the browser command line. Behind a proxy the browser
// is told never to resolve names itself, so DNS cannot leak around Tor.
//
// Design decision: Chromium's --proxy-server already sends hostnames to a
// socks5 proxy, but prefetching and some internal requests still resolve
// locally. The host-resolver-rules flag maps every name to NOTFOUND except
// the proxy host, so any lookup that bypasses the proxy fails instead of
// reaching the local resolver.
func newLauncher(endpoint tor.Endpoint, opts Options) *launcher.Launcher {
	l := launcher.New().
		Headless(true).
		Set("ignore-certificate-errors").
		Set("disable-background-networking")

	if endpoint.Proxied() {
		l = l.Proxy(endpoint.URL())
		host, _, err := net.SplitHostPort(endpoint.Address)
		if err != nil {
			host = endpoint.Address
		}
		l = l.Set(flags.Flag("host-resolver-rules"), "MAP * ~NOTFOUND , EXCLUDE "+host)
	}
	if opts.BrowserBin != "" {
		l = l.Bin(opts.BrowserBin)
	}
	return l
}

// NewRenderEngine launches the browser routed through endpoint.
func NewRenderEngine(endpoint tor.Endpoint, opts Options, options ...RenderOption) (*RenderEngine, error) {
	e := &RenderEngine{
		opts:     opts,
		contexts: semaphore.NewWeighted(1),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.launcher = newLauncher(endpoint, opts)
	controlURL, err := e.launcher.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		e.launcher.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	e.browser = browser

	e.logger.Debug("browser started", "proxy", endpoint.URL(), "stealth", opts.Stealth)
	return e, nil
}

// Session returns an Engine that sends the forum's cookie and headers.
func (e *RenderEngine) Session(cookie string, headers map[string]string) Engine {
	extra := make([]string, 0, 2*len(headers)+2)
	for k, v := range headers {
		extra = append(extra, k, v)
	}
	if cookie != "" {
		extra = append(extra, "Cookie", cookie)
	}
	return &renderSession{engine: e, headers: extra}
}

// Close shuts the browser down and removes its profile directory.
func (e *RenderEngine) Close() error {
	var err error
	if e.browser != nil {
		err = e.browser.Close()
	}
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher.Cleanup()
	}
	return err
}

type renderSession struct {
	engine  *RenderEngine
	headers []string
}

// Kind implements Engine.
func (s *renderSession) Kind() config.Engine {
	return config.EngineRendering
}

// Fetch implements Engine. Navigation is bounded by the network timeout;
// the idle wait, the fixed delay and the DOM read share the render timeout.
func (s *renderSession) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	e := s.engine
	if err := e.contexts.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer e.contexts.Release(1)

	start := time.Now()

	incognito, err := e.browser.Incognito()
	if err != nil {
		return nil, newError(ErrNetwork, rawURL, fmt.Errorf("create browser context: %w", err))
	}
	defer func() { _ = incognito.Close() }()

	var page *rod.Page
	if e.opts.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, newError(ErrNetwork, rawURL, fmt.Errorf("open page: %w", err))
	}
	defer func() { _ = page.Close() }()

	pageCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	page = page.Context(pageCtx)

	if e.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.opts.UserAgent}); err != nil {
			return nil, newError(ErrNetwork, rawURL, err)
		}
	}
	if len(s.headers) > 0 {
		restore, err := page.SetExtraHeaders(s.headers)
		if err != nil {
			return nil, newError(ErrNetwork, rawURL, err)
		}
		defer restore()
	}

	var status atomic.Int64
	mainFrame := page.FrameID
	go page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if code, ok := mainDocumentStatus(mainFrame, ev); ok {
			status.Store(int64(code))
		}
		return false
	})()

	nav := page.Timeout(e.opts.Timeout)
	defer nav.CancelTimeout()
	if err := nav.Navigate(rawURL); err != nil {
		return nil, classifyRenderError(ctx, rawURL, err, ErrNetwork)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, classifyRenderError(ctx, rawURL, err, ErrNetwork)
	}

	render := page.Timeout(e.opts.RenderTimeout)
	defer render.CancelTimeout()
	if e.opts.RenderIdle > 0 {
		render.WaitRequestIdle(e.opts.RenderIdle, nil, nil, nil)()
	}
	if e.opts.RenderDelay > 0 {
		timer := time.NewTimer(e.opts.RenderDelay)
		select {
		case <-timer.C:
		case <-render.GetContext().Done():
			timer.Stop()
			return nil, classifyRenderError(ctx, rawURL, render.GetContext().Err(), ErrRenderTimeout)
		}
	}

	html, err := render.HTML()
	if err != nil {
		return nil, classifyRenderError(ctx, rawURL, err, ErrRenderTimeout)
	}
	finalURL := rawURL
	if info, err := render.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	code := int(status.Load())
	if code >= 400 {
		return nil, statusError(finalURL, code)
	}
	if int64(len(html)) > e.opts.MaxBodySize {
		return nil, &Error{
			Kind: ErrOversizedBody,
			URL:  finalURL,
			Err:  fmt.Errorf("rendered document exceeds %d bytes", e.opts.MaxBodySize),
		}
	}
	body := []byte(html)
	if IsChallengePage(body) {
		return nil, newError(ErrChallengePage, finalURL, nil)
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  code,
		ContentType: "text/html",
		Body:        body,
		Elapsed:     time.Since(start),
	}, nil
}

// mainDocumentStatus returns the HTTP status of ev when it answers the
// document request of the page's main frame. Documents loaded by iframes
// are ignored, so an embedded 404 does not fail the page.
func mainDocumentStatus(mainFrame proto.PageFrameID, ev *proto.NetworkResponseReceived) (int, bool) {
	if ev.Type != proto.NetworkResourceTypeDocument || ev.Response == nil {
		return 0, false
	}
	if ev.FrameID != "" && ev.FrameID != mainFrame {
		return 0, false
	}
	return ev.Response.Status, true
}

// classifyRenderError maps a browser error to a failure kind. timeoutKind
// is used when the phase's deadline expired: ErrNetwork while navigating,
// ErrRenderTimeout while waiting for the page to settle.
func classifyRenderError(ctx context.Context, url string, err, timeoutKind error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("fetch %s: %w", url, ctxErr)
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) && strings.Contains(navErr.Reason, "PROXY") {
		return newError(ErrProxyUnreachable, url, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(timeoutKind, url, err)
	}
	return newError(ErrNetwork, url, err)
}
