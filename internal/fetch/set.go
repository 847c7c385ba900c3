package fetch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/tor"
)

// Set hands out engines for forums. Protocol clients are cheap and built
// per forum; the browser is launched on first use and shared.
type Set struct {
	router *tor.Router
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	render *RenderEngine
}

// NewSet returns a Set routing engines through router.
func NewSet(router *tor.Router, opts Options, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{router: router, opts: opts, logger: logger}
}

// ForForum returns the engine of the given kind configured with the forum's
// cookie and headers.
func (s *Set) ForForum(kind config.Engine, forum config.ForumConfig) (Engine, error) {
	switch kind {
	case config.EngineProtocol:
		return s.protocol(forum)
	case config.EngineRendering:
		r, err := s.browser()
		if err != nil {
			return nil, err
		}
		return r.Session(forum.Cookie, forum.Headers), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidEngine, kind)
	}
}

// Downloader returns the attachment downloader for forum. It is always a
// protocol client, whatever engine the forum's pages use.
func (s *Set) Downloader(forum config.ForumConfig) (Downloader, error) {
	return s.protocol(forum)
}

func (s *Set) protocol(forum config.ForumConfig) (*ProtocolEngine, error) {
	dialer, err := s.router.Client(config.EngineProtocol)
	if err != nil {
		return nil, err
	}
	return NewProtocolEngine(dialer, s.opts,
		WithSession(forum.Cookie, forum.Headers),
		WithProtocolLogger(s.logger.With("forum", forum.Key)),
	), nil
}

func (s *Set) browser() (*RenderEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.render != nil {
		return s.render, nil
	}
	endpoint, err := s.router.Endpoint(config.EngineRendering)
	if err != nil {
		return nil, err
	}
	r, err := NewRenderEngine(endpoint, s.opts, WithRenderLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.render = r
	return r, nil
}

// Close shuts down the browser if one was started.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.render == nil {
		return nil
	}
	err := s.render.Close()
	s.render = nil
	return err
}
