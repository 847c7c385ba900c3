package quarantine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/model"
)

// ErrPolicyRejected matches every *RejectedError.
var ErrPolicyRejected = errors.New("attachment rejected by policy")

// Reason says why an attachment was rejected.
type Reason string

// Rejection reasons. They are also the counter labels in the run summary.
const (
	ReasonOversized      Reason = "oversized_body"
	ReasonHostMismatch   Reason = "host_mismatch"
	ReasonPerThreadLimit Reason = "per_thread_limit"
	ReasonContentType    Reason = "unexpected_content_type"
	ReasonFetchFailed    Reason = "fetch_failed"
)

// RejectedError is a policy rejection.
type RejectedError struct {
	Reason Reason
	URL    string
	Detail string
	// Err is the underlying fetch failure for ReasonOversized and
	// ReasonFetchFailed, if any.
	Err error
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("attachment rejected (%s): %s", e.Reason, e.URL)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is makes errors.Is(err, ErrPolicyRejected) hold.
func (e *RejectedError) Is(target error) bool {
	return target == ErrPolicyRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the rejection reason of err, or "" when err is not a
// rejection.
func ReasonOf(err error) Reason {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

func reject(reason Reason, rawURL, format string, args ...any) *RejectedError {
	return &RejectedError{Reason: reason, URL: rawURL, Detail: fmt.Sprintf(format, args...)}
}

// Policy holds the attachment limits.
type Policy struct {
	// MaxSize is the largest accepted attachment in bytes.
	MaxSize int64
	// MaxPerThread caps stored attachments per thread.
	MaxPerThread int
	// SameHost requires the attachment host to equal the thread host.
	SameHost bool
	// SizeRule selects whether the declared size is checked before fetching.
	// The observed size is always capped by the download itself.
	SizeRule config.SizeRule
}

// PolicyFromConfig copies the attachment limits out of cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxSize:      cfg.AttachmentMaxSize,
		MaxPerThread: cfg.AttachmentMaxPerThread,
		SameHost:     cfg.SameHost,
		SizeRule:     cfg.SizeRule,
	}
}

// CheckBeforeFetch applies the checks that need no bytes, in order: declared
// size, host, per-thread count. stored is the number of attachments already
// stored for the thread.
func (p Policy) CheckBeforeFetch(ref model.AttachmentRef, stored int) error {
	if p.SizeRule != config.SizeRuleObserved && ref.HasDeclaredSize() && ref.DeclaredSize > p.MaxSize {
		return reject(ReasonOversized, ref.URL, "declared size %d exceeds %d", ref.DeclaredSize, p.MaxSize)
	}
	if err := p.checkHost(ref.URL, ref.ThreadPermalink); err != nil {
		return err
	}
	if p.MaxPerThread > 0 && stored >= p.MaxPerThread {
		return reject(ReasonPerThreadLimit, ref.URL, "thread already has %d attachments", stored)
	}
	return nil
}

// CheckAfterFetch applies the checks on the fetched response: the observed
// size, the host after redirects, and the declared content type.
func (p Policy) CheckAfterFetch(ref model.AttachmentRef, finalURL, contentType string, size int64) error {
	if size > p.MaxSize {
		return reject(ReasonOversized, ref.URL, "fetched %d bytes, limit %d", size, p.MaxSize)
	}
	if finalURL != "" && finalURL != ref.URL {
		if err := p.checkHost(finalURL, ref.ThreadPermalink); err != nil {
			return err
		}
	}
	if textContentTypes[strings.ToLower(contentType)] {
		return reject(ReasonContentType, ref.URL, "server sent %s", contentType)
	}
	return nil
}

// textContentTypes are page-like responses. An attachment link answering
// with one of these is usually a login wall or an error page.
var textContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/plain":            true,
	"text/markdown":         true,
}

func (p Policy) checkHost(rawURL, threadPermalink string) error {
	if !p.SameHost {
		return nil
	}
	got, want := hostOf(rawURL), hostOf(threadPermalink)
	if got == "" || got != want {
		return reject(ReasonHostMismatch, rawURL, "host %q differs from thread host %q", got, want)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
