package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure kinds. Every *Error wraps exactly one of them.
var (
	// ErrNetwork covers connect failures, resets and timeouts.
	ErrNetwork = errors.New("network error")

	// ErrProxyUnreachable means the engine's SOCKS endpoint could not be reached.
	ErrProxyUnreachable = errors.New("proxy unreachable")

	// ErrHTTPStatus means the server answered with a non-success status.
	ErrHTTPStatus = errors.New("unexpected HTTP status")

	// ErrRenderTimeout means the rendering engine ran out of its render budget.
	ErrRenderTimeout = errors.New("render timeout")

	// ErrOversizedBody means the body exceeded the size cap.
	ErrOversizedBody = errors.New("body exceeds size cap")

	// ErrBlockedContent means the response was refused because it is not a
	// page: an attachment-like URL, a download disposition or a non-HTML type.
	ErrBlockedContent = errors.New("blocked content")

	// ErrChallengePage means an anti-bot interstitial was served instead of
	// the page.
	ErrChallengePage = errors.New("anti-bot challenge page")
)

// Error is a fetch failure.
type Error struct {
	// Kind is one of the failure kind sentinels.
	Kind error
	// URL is the URL being fetched when the failure happened.
	URL string
	// StatusCode is set for ErrHTTPStatus.
	StatusCode int
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, url string, cause error) *Error {
	return &Error{Kind: kind, URL: url, Err: cause}
}

func statusError(url string, code int) *Error {
	return &Error{Kind: ErrHTTPStatus, URL: url, StatusCode: code}
}

// transientStatus lists statuses that indicate temporary overload.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryable reports whether another attempt at the same URL may succeed.
// Oversized and blocked responses are final, as are statuses other than
// 429 and 5xx overload. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) && errors.Is(fe.Kind, ErrHTTPStatus) {
		return transientStatus[fe.StatusCode]
	}
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrProxyUnreachable) ||
		errors.Is(err, ErrRenderTimeout) ||
		errors.Is(err, ErrChallengePage)
}

// Error kind labels used in run counters.
const (
	LabelNetwork          = "network"
	LabelProxyUnreachable = "proxy_unreachable"
	LabelHTTPStatus       = "http_status"
	LabelRenderTimeout    = "render_timeout"
	LabelOversizedBody    = "oversized_body"
	LabelBlocked          = "blocked_content"
	LabelChallenge        = "challenge_page"
	LabelCanceled         = "canceled"
	LabelOther            = "other"
)

// KindLabel returns the counter label for err.
func KindLabel(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return LabelCanceled
	case errors.Is(err, ErrProxyUnreachable):
		return LabelProxyUnreachable
	case errors.Is(err, ErrNetwork):
		return LabelNetwork
	case errors.Is(err, ErrHTTPStatus):
		return LabelHTTPStatus
	case errors.Is(err, ErrRenderTimeout):
		return LabelRenderTimeout
	case errors.Is(err, ErrOversizedBody):
		return LabelOversizedBody
	case errors.Is(err, ErrBlockedContent):
		return LabelBlocked
	case errors.Is(err, ErrChallengePage):
		return LabelChallenge
	default:
		return LabelOther
	}
}
