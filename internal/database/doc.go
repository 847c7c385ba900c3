// Package database provides the optional SQLite store for crawl output.
//
// The store keeps one row per post, keyed by the post's dedup key, and one
// row per quarantined attachment. A post that is already present is skipped,
// so repeated runs over the same forum never create duplicate rows.
//
// We use modernc.org/sqlite because it is CGO-free and keeps the store a
// single file next to the output log. WAL mode lets a reader inspect the
// database while a crawl is writing to it.
package database
