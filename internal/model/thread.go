package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// threadHashContentLimit is the number of characters of post content that
// feed the thread hash.
const threadHashContentLimit = 5000

// Thread is a discussion thread discovered on a listing page.
type Thread struct {
	// ForumKey is the configuration key of the forum the thread belongs to.
	ForumKey string `json:"forum"`

	// Title is the thread title. It starts as the listing link text and is
	// replaced by the title found on the thread page when one is present.
	Title string `json:"title"`

	// Permalink is the absolute URL of the thread's first page.
	Permalink string `json:"permalink"`

	// ListingURL is the listing page the thread link was found on.
	ListingURL string `json:"listing_url"`
}

// Host returns the lowercase host of the thread permalink, or "" when the
// permalink cannot be parsed.
func (t Thread) Host() string {
	u, err := url.Parse(t.Permalink)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ThreadHash identifies a thread by its title and the leading part of its
// post content. It names the thread's quarantine directory.
func ThreadHash(title string, contents []string) string {
	sum := sha256.Sum256([]byte(title + runePrefix(strings.Join(contents, "\n"), threadHashContentLimit)))
	return hex.EncodeToString(sum[:])
}

// runePrefix returns the first n characters of s without splitting a
// multi-byte character.
func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
