// Package pipeline schedules the forums of one crawl run.
//
// A Runner takes the selected forums as Jobs and drives one crawler per
// forum. Forums run one at a time unless a higher concurrency is set, and
// at most one forum holds the rendering engine at any moment since the
// browser is shared and resource heavy. A forum that fails or aborts never
// stops the others; only cancellation of the run context does.
//
// With resume enabled, saved checkpoints are handed back to their forums:
// finished forums are skipped and interrupted ones continue from their
// next listing page.
package pipeline
