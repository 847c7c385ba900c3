package tor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/nao1215/darkwatch/internal/config"
)

// Endpoint is the resolved network route for one fetch engine.
type Endpoint struct {
	// Engine is the engine the endpoint belongs to.
	Engine config.Engine
	// Address is the SOCKS host:port, or "" when traffic goes out directly.
	Address string
}

// Proxied reports whether traffic goes through a SOCKS proxy.
func (e Endpoint) Proxied() bool {
	return e.Address != ""
}

// URL returns the endpoint as a socks5:// URL for browser flags, or "".
func (e Endpoint) URL() string {
	if !e.Proxied() {
		return ""
	}
	return "socks5://" + e.Address
}

// Router maps each fetch engine to its own SOCKS endpoint.
type Router struct {
	enabled bool
	host    string
	ports   map[config.Engine]int
	timeout time.Duration
	logger  *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger used for endpoint check results.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter builds a Router from the run configuration. When cfg.UseTor is
// false every endpoint is direct.
func NewRouter(cfg *config.Config, opts ...RouterOption) *Router {
	r := &Router{
		enabled: cfg.UseTor,
		host:    cfg.ProxyHost,
		ports: map[config.Engine]int{
			config.EngineProtocol:  cfg.ProtocolProxyPort,
			config.EngineRendering: cfg.RenderProxyPort,
		},
		timeout: cfg.Timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Enabled reports whether traffic is routed through Tor.
func (r *Router) Enabled() bool {
	return r.enabled
}

// Endpoint returns the route for engine.
func (r *Router) Endpoint(engine config.Engine) (Endpoint, error) {
	port, ok := r.ports[engine]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}
	if !r.enabled {
		return Endpoint{Engine: engine}, nil
	}
	return Endpoint{
		Engine:  engine,
		Address: net.JoinHostPort(r.host, strconv.Itoa(port)),
	}, nil
}

// Client returns a dialer bound to engine's endpoint.
func (r *Router) Client(engine config.Engine) (*Client, error) {
	ep, err := r.Endpoint(engine)
	if err != nil {
		return nil, err
	}
	if !ep.Proxied() {
		return NewDirectClient(r.timeout), nil
	}
	return NewClient(ep.Address, r.timeout)
}

// CheckEndpoints checks the endpoints of the given engines and logs any that do not
// answer like a Tor SOCKS proxy. Fetches through a failed endpoint are
// reported per page as proxy-unreachable, so a failed check is not fatal.
func (r *Router) CheckEndpoints(ctx context.Context, engines ...config.Engine) map[config.Engine]ProxyStatus {
	result := make(map[config.Engine]ProxyStatus, len(engines))
	for _, engine := range engines {
		if _, done := result[engine]; done {
			continue
		}
		client, err := r.Client(engine)
		if err != nil {
			result[engine] = ProxyStatusCannotConnect
			continue
		}
		status := client.CheckConnection(ctx)
		result[engine] = status
		if status != ProxyStatusOK {
			r.logger.Warn("proxy endpoint check failed",
				"engine", engine,
				"address", client.ProxyAddress(),
				"status", status.String(),
				"error", status.Err(),
			)
		} else if client.Proxied() {
			r.logger.Debug("proxy endpoint ready", "engine", engine, "address", client.ProxyAddress())
		}
	}
	return result
}
