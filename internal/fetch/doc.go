// Package fetch retrieves forum pages and attachment bytes.
//
// Two engines implement Engine. The protocol client issues plain HTTP
// requests, follows redirects one hop at a time up to a bound, and never
// executes scripts. The rendering engine drives a headless Chromium through
// go-rod, waits for the page to settle and returns the rendered document.
// Both go through the SOCKS endpoint their engine is routed to, both cap the
// body size, and both report failures as *Error values whose kind can be
// tested with errors.Is:
//
//	res, err := engine.Fetch(ctx, url)
//	if errors.Is(err, fetch.ErrOversizedBody) {
//		// never retried
//	}
//
// Attachments are always downloaded by the protocol client, through
// Downloader, so no attachment is ever opened in a browser.
package fetch
