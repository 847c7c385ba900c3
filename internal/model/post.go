package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Field names reported in Post.Missing when a selector finds nothing.
const (
	FieldAuthor    = "author"
	FieldTimestamp = "timestamp"
	FieldContent   = "content"
	FieldPermalink = "permalink"
)

// Post is one message extracted from a thread page. It is the unit written
// to the output log and the relational store.
type Post struct {
	ForumKey        string    `json:"forum"`
	ThreadTitle     string    `json:"thread_title"`
	ThreadPermalink string    `json:"thread_permalink"`
	Author          string    `json:"author"`
	Timestamp       string    `json:"timestamp"`
	Content         string    `json:"content"`
	Permalink       string    `json:"permalink"`
	ListingURL      string    `json:"listing_url"`
	FetchedAt       time.Time `json:"fetched_at"`

	// Missing lists the fields whose selectors matched nothing.
	Missing []string `json:"missing_fields,omitempty"`

	// Indicators found in Content. They do not take part in deduplication.
	Indicators []Indicator `json:"indicators,omitempty"`

	// Attachments found inside the post container.
	Attachments []AttachmentRef `json:"-"`
}

// DedupKey returns the key used to recognise a post across runs: its
// permalink when it has one, otherwise a hash over the fields that make it
// distinct within its thread.
func (p *Post) DedupKey() string {
	if p.Permalink != "" {
		return p.Permalink
	}
	h := sha256.New()
	for _, s := range []string{p.ForumKey, p.ThreadPermalink, p.Author, p.Timestamp, p.Content} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// MarkMissing records that field could not be extracted.
func (p *Post) MarkMissing(field string) {
	p.Missing = append(p.Missing, field)
}
