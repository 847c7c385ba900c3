// Package report renders the end-of-run summary.
//
// A Run is built from the scheduler's summary and holds, per forum, the
// final state and the counters: pages fetched, posts extracted and skipped
// as duplicates, attachments quarantined and rejected by reason, and
// errors by kind. Writers render it as plain text for the terminal, JSON
// for tooling, or Markdown for sharing. All writers implement Writer and
// can be combined with MultiWriter.
package report
