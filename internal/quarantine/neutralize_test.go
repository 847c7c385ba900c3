package quarantine

import (
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 200) + ".tar.gz"
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "dump.zip", "dump.zip"},
		{"spaces and unicode", "my leak (final) 한글.rar", "my_leak_final_.rar"},
		{"path traversal", "../../etc/passwd", ".._.._etc_passwd"},
		{"empty", "   ", "file.bin"},
		{"dots only", "..", "file.bin"},
		{"long keeps extension", long, strings.Repeat("a", 80) + ".gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeName(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if strings.ContainsAny(got, "/\\ ") {
				t.Errorf("unsafe characters left in %q", got)
			}
		})
	}
}

func TestNeutralize(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"setup.exe", "invoice.pdf.exe", "run.sh", "", "a.quarantine"} {
		stored, data, sum := Neutralize([]byte("payload"), name)
		if !strings.HasSuffix(stored, Suffix) {
			t.Errorf("%q: stored name %q lacks suffix", name, stored)
		}
		if !strings.HasPrefix(stored, sum[:12]+"_") {
			t.Errorf("%q: stored name %q lacks hash prefix", name, stored)
		}
		if string(data) != "payload" {
			t.Errorf("%q: bytes changed", name)
		}
	}
}

func TestDeclaredName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		page, disposition, url, want string
	}{
		{"page.zip", "disp.zip", "http://h/x/url.zip", "page.zip"},
		{"", "disp.zip", "http://h/x/url.zip", "disp.zip"},
		{"", "", "http://h/x/url%20name.zip", "url name.zip"},
		{"", "", "http://h/", ""},
	}
	for _, tt := range tests {
		if got := declaredName(tt.page, tt.disposition, tt.url); got != tt.want {
			t.Errorf("declaredName(%q, %q, %q) = %q, want %q", tt.page, tt.disposition, tt.url, got, tt.want)
		}
	}
}
