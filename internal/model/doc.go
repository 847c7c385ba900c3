// Package model defines the records that flow through a crawl run.
//
// Threads and posts are produced by the crawler from listing and thread
// pages, attachment references are produced alongside posts and consumed by
// the quarantine, and a Checkpoint carries per-forum progress and counters
// from one listing page to the next.
package model
