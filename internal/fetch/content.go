package fetch

import (
	"mime"
	"net/url"
	"regexp"
	"strings"
)

// attachmentURLPattern matches URLs that point at downloads rather than
// pages. Page fetches refuse them so the protocol client never pulls an
// attachment outside the quarantine.
var attachmentURLPattern = regexp.MustCompile(
	`(?i)(/attachment|/attachments|/upload|/uploads|/files?/|/download|` +
		`\.(zip|7z|rar|exe|msi|iso|apk|jar|bat|cmd|ps1|dll|scr|docm|xlsm|pdf|gz|bz2|xz|tar)(\?|#|$))`)

// IsAttachmentURL reports whether rawURL looks like a file download.
func IsAttachmentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return attachmentURLPattern.MatchString(rawURL)
	}
	return attachmentURLPattern.MatchString(u.EscapedPath())
}

// htmlTypes are the media types accepted as pages.
var htmlTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
}

// mediaType returns the lowercase media type of a Content-Type header.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsHTMLContentType reports whether contentType is a page type. An empty
// header is accepted; many hidden services omit it.
func IsHTMLContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	return htmlTypes[mediaType(contentType)]
}

// isAttachmentDisposition reports whether a Content-Disposition header asks
// for a download.
func isAttachmentDisposition(header string) bool {
	disposition, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.Contains(strings.ToLower(header), "attachment")
	}
	return disposition == "attachment"
}

// dispositionFilename returns the filename parameter of a Content-Disposition
// header, or "".
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// challengeTitles are title fragments of common anti-bot interstitials.
var challengeTitles = []string{
	"just a moment",
	"attention required",
	"ddos-guard",
	"checking your browser",
	"ddos protection",
}

// IsChallengePage reports whether body is an anti-bot interstitial rather
// than forum content.
func IsChallengePage(body []byte) bool {
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return false
	}
	title := strings.ToLower(string(m[1]))
	for _, c := range challengeTitles {
		if strings.Contains(title, c) {
			return true
		}
	}
	return false
}
