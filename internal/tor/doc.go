// Package tor routes darkwatch's fetch engines through Tor.
//
// Each fetch engine has its own SOCKS endpoint: by default the protocol
// client uses the Tor Browser listener on 9150 and the rendering engine the
// tor service listener on 9050. A Router resolves the endpoint for an engine
// once per forum and hands out a Client that dials through it. Hostnames are
// always resolved by the proxy, never locally.
//
// The package also validates v3 onion hostnames so that a mistyped forum
// address is reported before any traffic is sent.
package tor
