package indicator

import (
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// hash160Len is the payload size of a legacy pay-to-pubkey-hash or
// pay-to-script-hash address.
const hash160Len = 20

// Base58Check version bytes of legacy addresses.
var (
	bitcoinVersions  = []byte{0x00, 0x05}
	litecoinVersions = []byte{0x30, 0x32}
)

// legacyAddress returns a validator for Base58Check addresses with one of
// the given version bytes.
func legacyAddress(versions ...byte) func(string) bool {
	return func(s string) bool {
		payload, version, err := base58.CheckDecode(s)
		return err == nil && len(payload) == hash160Len && slices.Contains(versions, version)
	}
}

// segwitAddress returns a validator for bech32 and bech32m addresses with
// the human readable part hrp.
func segwitAddress(hrp string) func(string) bool {
	return func(s string) bool {
		// Mixed case is invalid bech32; the pattern matches case-insensitively.
		got, data, _, err := bech32.DecodeGeneric(strings.ToLower(s))
		return err == nil && got == hrp && len(data) > 0
	}
}
