package tor

import "errors"

// Proxy errors.
var (
	// ErrProxyNotTor is returned when the endpoint does not speak SOCKS5 without auth.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when the SOCKS endpoint refuses or drops the connection.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the SOCKS endpoint does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress is returned for a malformed host:port.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrUnknownEngine is returned when the router has no endpoint for an engine.
	ErrUnknownEngine = errors.New("no proxy endpoint for engine")
)

// Onion address errors.
var (
	// ErrInvalidOnionAddress is returned when an .onion host fails the v3 checksum.
	ErrInvalidOnionAddress = errors.New("invalid onion address")

	// ErrV2AddressDeprecated is returned for 16 character v2 addresses, which
	// stopped working in October 2021.
	ErrV2AddressDeprecated = errors.New("v2 onion addresses are deprecated and no longer functional")
)

// ProxyStatus is the outcome of a SOCKS endpoint check.
//
// Design decision: CheckConnection returns a status rather than an error.
// A failed check is not fatal (each fetch later reports proxy-unreachable on
// its own), so callers switch on the outcome for logging. Err maps a status
// back to the sentinel errors above when one is needed.
type ProxyStatus int

const (
	// ProxyStatusOK means the endpoint completed a SOCKS5 handshake.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType means something answered that is not a usable SOCKS5 proxy.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect means nothing is listening.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout means the endpoint did not answer in time.
	ProxyStatusTimeout
)

// String returns a human readable status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Err returns the error matching the status, or nil for ProxyStatusOK.
func (s ProxyStatus) Err() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
