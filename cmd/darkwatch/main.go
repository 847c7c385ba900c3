// Package main provides the entry point for the DarkWatch CLI.
//
// DarkWatch crawls discussion forums reachable only as Tor hidden services,
// extracts posts with per-forum CSS selectors and keeps attachments in an
// isolated quarantine.
//
// Usage:
//
//	darkwatch init
//	darkwatch crawl --forums forum1,forum2
//	darkwatch verify
//
// See --help for all available options.
package main

// main is the entry point for DarkWatch.
func main() {
	Execute()
}
