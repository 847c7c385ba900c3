// Package sink persists extracted posts.
//
// Every post goes to an append-only JSON lines log. When a relational store
// is attached, the store's uniqueness constraint decides whether a post is
// new, and the log line is written inside the same transaction so the two
// never disagree. Without a store, duplicates are recognised from the keys
// already present in the log.
//
// A Sink is shared by every forum of a run and serializes all writes.
package sink
