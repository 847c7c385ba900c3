package indicator

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nao1215/darkwatch/internal/model"
)

const (
	validOnion  = "y3a4gwt4hhf32khooet227r2jwd3xh5jvpeemisotsvhoqdnhqol47ad.onion"
	genesis     = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	p2sh        = "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"
	bech32Addr  = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	litecoin    = "Lg7EvUMHYyzGrmV9oUtKSDMDxNjtYhApAB"
	ethereum    = "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"
	badChecksum = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb"
	ltcSegwit   = "ltc1qqqqsyqcyq5rqwzqfpg9scrgwpugpzysn3s44dy"
	badBech32   = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdr"
)

var monero = "4A" + strings.Repeat("abcdefghijk", 9)[:93]

func TestExtract(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"Contact Admin@Example.com or admin@example.com.",
		"Mirror: http://" + strings.ToUpper(validOnion) + "/board and " + strings.Repeat("a", 56) + ".onion",
		"BTC " + genesis + ", " + p2sh + ", broken " + badChecksum + ", segwit " + strings.ToUpper(bech32Addr) + " " + badBech32,
		"LTC " + litecoin + " " + ltcSegwit + " ETH " + ethereum + " XMR " + monero,
		"Join t.me/DarkWatch_News or discord.gg/abcDEF",
		"Exploit for cve-2024-3094 on 10.0.0.1, not 999.1.1.1",
		"Again: admin@example.com " + genesis,
	}, "\n")

	want := []model.Indicator{
		{Kind: "email", Value: "admin@example.com"},
		{Kind: "onion", Value: validOnion},
		{Kind: "bitcoin", Value: genesis},
		{Kind: "bitcoin", Value: p2sh},
		{Kind: "bitcoin", Value: bech32Addr},
		{Kind: "litecoin", Value: litecoin},
		{Kind: "litecoin", Value: ltcSegwit},
		{Kind: "ethereum", Value: strings.ToLower(ethereum)},
		{Kind: "monero", Value: monero},
		{Kind: "telegram", Value: "darkwatch_news"},
		{Kind: "discord", Value: "abcDEF"},
		{Kind: "cve", Value: "CVE-2024-3094"},
		{Kind: "ipv4", Value: "10.0.0.1"},
	}

	got := New().Extract(text)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() =\n%v\nwant\n%v", got, want)
	}
}

func TestExtractSelectedKinds(t *testing.T) {
	t.Parallel()

	text := "mail me at a@b.io or pay " + genesis
	got := New(KindBitcoin).Extract(text)
	want := []model.Indicator{{Kind: "bitcoin", Value: genesis}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtractNothing(t *testing.T) {
	t.Parallel()

	e := New()
	for _, text := range []string{"", "just words, version 1.2.3 and no addresses"} {
		if got := e.Extract(text); len(got) != 0 {
			t.Errorf("Extract(%q) = %v, want none", text, got)
		}
	}
}

func TestWalletValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		valid func(string) bool
		addr  string
		want  bool
	}{
		{"bitcoin p2pkh", legacyAddress(bitcoinVersions...), genesis, true},
		{"bitcoin p2sh", legacyAddress(bitcoinVersions...), p2sh, true},
		{"bitcoin bad checksum", legacyAddress(bitcoinVersions...), badChecksum, false},
		{"bitcoin truncated", legacyAddress(bitcoinVersions...), "1A1zP1eP5QGefi2DMPTfTL5SLmv7Divf", false},
		{"bitcoin invalid character", legacyAddress(bitcoinVersions...), "1A1zP1eP5QGefi2DMPTfTL5SLmv7Divf0a", false},
		{"litecoin legacy", legacyAddress(litecoinVersions...), litecoin, true},
		{"bitcoin version rejected as litecoin", legacyAddress(litecoinVersions...), genesis, false},
		{"bech32", segwitAddress("bc"), bech32Addr, true},
		{"bech32 upper case", segwitAddress("bc"), strings.ToUpper(bech32Addr), true},
		{"bech32 bad checksum", segwitAddress("bc"), badBech32, false},
		{"bech32 wrong network", segwitAddress("bc"), ltcSegwit, false},
		{"litecoin segwit", segwitAddress("ltc"), ltcSegwit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.valid(tt.addr); got != tt.want {
				t.Errorf("valid(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestParseKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []string
		want    []Kind
		wantErr bool
	}{
		{name: "empty selects all", in: nil, want: AllKinds()},
		{name: "all", in: []string{"all"}, want: AllKinds()},
		{name: "none", in: []string{"none"}, want: nil},
		{name: "subset keeps order and drops repeats", in: []string{"Monero", " email", "monero"}, want: []Kind{KindMonero, KindEmail}},
		{name: "unknown", in: []string{"email", "phone"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseKinds(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownKind) {
					t.Errorf("expected ErrUnknownKind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKinds(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAllKinds(t *testing.T) {
	t.Parallel()

	kinds := AllKinds()
	if len(kinds) != 10 {
		t.Fatalf("expected 10 kinds, got %d: %v", len(kinds), kinds)
	}
	if kinds[0] != KindEmail || kinds[len(kinds)-1] != KindIPv4 {
		t.Errorf("unexpected order %v", kinds)
	}
}
