package quarantine

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Suffix is appended to every stored file name.
const Suffix = ".quarantine"

const (
	fallbackName    = "file.bin"
	maxNameLength   = 120
	truncatedStem   = 80
	hashPrefixChars = 12
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName reduces name to a safe set of characters. Long names keep
// the head of the stem and their extension. An empty or all-dot name
// becomes "file.bin".
func SanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if strings.Trim(name, "._") == "" {
		return fallbackName
	}
	if len(name) > maxNameLength {
		stem, ext := name, ""
		if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i <= maxNameLength-truncatedStem {
			stem, ext = name[:i], name[i:]
		}
		if len(stem) > truncatedStem {
			stem = stem[:truncatedStem]
		}
		name = stem + ext
		if len(name) > maxNameLength {
			name = name[:maxNameLength]
		}
	}
	return name
}

// Neutralize turns fetched bytes and their declared name into the name and
// bytes to store. The name always ends in Suffix and starts with a prefix of
// the content hash; the bytes are stored unchanged. It returns the full
// hex SHA-256 of data as well.
func Neutralize(data []byte, declaredName string) (storedName string, stored []byte, sum string) {
	digest := sha256.Sum256(data)
	sum = hex.EncodeToString(digest[:])
	storedName = sum[:hashPrefixChars] + "_" + SanitizeName(declaredName) + Suffix
	return storedName, data, sum
}

// StripSuffix removes Suffix from a stored name, leaving the hash-prefixed
// original name.
func StripSuffix(storedName string) string {
	return strings.TrimSuffix(storedName, Suffix)
}

// declaredName picks the best name hint for an attachment: the name shown
// on the page, then the Content-Disposition name, then the last URL path
// segment.
func declaredName(pageName, dispositionName, rawURL string) string {
	for _, n := range []string{pageName, dispositionName} {
		if strings.TrimSpace(n) != "" {
			return n
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "." || base == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
