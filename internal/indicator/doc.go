// Package indicator finds correlatable tokens in extracted post text:
// email addresses, onion addresses, cryptocurrency wallets, messenger
// handles, CVE identifiers and IPv4 addresses.
//
// Matches are checked beyond their pattern where the format allows it:
// onion addresses must carry a valid v3 checksum, legacy Bitcoin and
// Litecoin addresses a valid Base58Check checksum and version byte, and
// segwit addresses a valid bech32 or bech32m checksum. The extractor never
// follows or resolves what it finds.
package indicator
