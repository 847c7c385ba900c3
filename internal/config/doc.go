// Package config holds the run configuration and the forum definitions for
// darkwatch.
//
// A run is configured in two layers. Config is a flat struct built from
// defaults and CLI flags; it controls the proxy endpoints, fetch limits,
// retry policy, output locations and attachment policy. Forum definitions
// come from a YAML file whose "defaults" block is merged into every entry
// under "forums". Each forum names its fetch engine, its listing URLs and an
// ordered fallback list of CSS selectors per logical field.
//
// Example file:
//
//	defaults:
//	  next_page: ["a.next", "a[rel=next]"]
//	forums:
//	  f1:
//	    engine: protocol-client
//	    list_urls:
//	      - "http://example.onion/forum?page=1"
//	    thread_link: ["a.thread-title", "h3.title > a"]
//	    post_container: ["div.post", "li.comment"]
//	    content: ["div.content"]
//
// Selector lists accept a single string or a sequence. They are compiled
// when the file is loaded, so an invalid selector fails fast.
package config
