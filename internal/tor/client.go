package tor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the SOCKS handshake check.
const checkProxyTimeout = 2 * time.Second

// Client dials through one SOCKS5 endpoint, or directly when it was built
// with NewDirectClient.
//
// Design decision: We don't manage a Tor daemon. Operators run their own
// tor service or Tor Browser, and a Client only needs the SOCKS5 listener.
// Each fetch engine gets its own Client so the protocol client and the
// browser can sit behind different listeners.
type Client struct {
	proxyAddress string
	dialer       proxy.ContextDialer
	timeout      time.Duration
}

// NewClient returns a Client that dials through the SOCKS5 proxy at
// proxyAddress. Target hostnames are sent to the proxy unresolved.
//
// Design decision: We dial with golang.org/x/net/proxy instead of setting
// http.Transport.Proxy. The x/net dialer sends the hostname in the CONNECT
// request (remote DNS, like socks5h), and the same dialer serves both the
// HTTP transport and the attachment downloads. The constructor does not
// contact the proxy; call CheckConnection for that.
func NewClient(proxyAddress string, timeout time.Duration) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	d, err := proxy.SOCKS5("tcp", proxyAddress, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support contexts")
	}

	return &Client{
		proxyAddress: proxyAddress,
		dialer:       cd,
		timeout:      timeout,
	}, nil
}

// NewDirectClient returns a Client that dials without a proxy.
func NewDirectClient(timeout time.Duration) *Client {
	return &Client{
		dialer:  &net.Dialer{Timeout: timeout},
		timeout: timeout,
	}
}

// Proxied reports whether the client dials through a SOCKS proxy.
func (c *Client) Proxied() bool {
	return c.proxyAddress != ""
}

// ProxyAddress returns the SOCKS endpoint, or "" for a direct client.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// SOCKS5 protocol constants used by the connection check.
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	socks5TestOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"
)

// CheckConnection tests the SOCKS endpoint with a handshake and a CONNECT
// to a well-formed onion address. Only the reply version is inspected; the
// target does not need to exist. A direct client always reports OK.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	if !c.Proxied() {
		return ProxyStatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if authResp[0] != socks5Version || authResp[1] == socks5AuthNoAccept || authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrTypeDomID, byte(len(socks5TestOnion))}
	req = append(req, socks5TestOnion...)
	req = append(req, 0x00, 80)
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// DialContext dials address through the client's endpoint. A failure to
// reach the SOCKS endpoint itself is reported as ErrProxyCannotConnect so
// callers can tell it apart from an unreachable forum.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, network, address)
	if err == nil {
		return conn, nil
	}
	if c.Proxied() && proxyDialFailed(err) {
		return nil, fmt.Errorf("%w %s: %w", ErrProxyCannotConnect, c.proxyAddress, err)
	}
	return nil, err
}

// proxyDialFailed reports whether err came from dialing the SOCKS endpoint
// rather than from the proxy's CONNECT. The socks dialer wraps both in a
// *net.OpError; only the former has an inner dial *net.OpError.
func proxyDialFailed(err error) bool {
	var outer *net.OpError
	if !errors.As(err, &outer) {
		return false
	}
	var inner *net.OpError
	return errors.As(outer.Err, &inner) && inner.Op == "dial"
}

// Transport returns an http.Transport dialing through the client.
// Compression is left to the caller so body caps apply to wire bytes.
func (c *Client) Transport() *http.Transport {
	return &http.Transport{
		DialContext: c.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // onion services use self-signed certificates
		},
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: c.timeout,
		DisableCompression:    true,
	}
}

// NewHTTPClient returns an http.Client that dials through the client and
// never follows redirects itself; callers follow them one hop at a time.
// A non-empty cookie and headers are added to every request.
//
// Design decisions:
//   - Redirects are returned to the caller. The fetch engines check every
//     hop against the attachment rules and count hops against their own
//     bound.
//   - TLS verification is disabled because onion services use self-signed
//     certificates and the onion address already authenticates the host.
//   - The cookie jar keeps session cookies set by a forum during one run.
func (c *Client) NewHTTPClient(cookie string, headers map[string]string) *http.Client {
	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	var rt http.RoundTripper = c.Transport()
	if cookie != "" || len(headers) > 0 {
		rt = &headerInjectingTransport{base: rt, cookie: cookie, headers: headers}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
		Jar:       jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// headerInjectingTransport adds a configured cookie and headers to each request.
type headerInjectingTransport struct {
	base    http.RoundTripper
	cookie  string
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if t.cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+t.cookie)
		} else {
			clone.Header.Set("Cookie", t.cookie)
		}
	}
	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}

	return t.base.RoundTrip(clone)
}
