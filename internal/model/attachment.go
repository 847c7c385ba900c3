package model

import "time"

// UnknownSize marks an attachment whose page did not declare a size.
const UnknownSize int64 = -1

// AttachmentRef is an attachment link found inside a post.
type AttachmentRef struct {
	ForumKey        string
	ThreadPermalink string
	// ThreadHash names the thread's quarantine directory.
	ThreadHash    string
	PostPermalink string
	URL           string
	DeclaredName  string
	// DeclaredSize is the size in bytes parsed from the page, or UnknownSize.
	DeclaredSize int64
}

// HasDeclaredSize reports whether the page declared a size for the attachment.
func (a AttachmentRef) HasDeclaredSize() bool {
	return a.DeclaredSize >= 0
}

// QuarantineRecord is one manifest entry for a stored attachment.
type QuarantineRecord struct {
	ForumKey        string    `json:"forum"`
	OriginalName    string    `json:"original_name"`
	StoredName      string    `json:"stored_name"`
	StoredPath      string    `json:"stored_path"`
	SHA256          string    `json:"sha256"`
	Size            int64     `json:"size"`
	ContentType     string    `json:"content_type,omitempty"`
	SourceURL       string    `json:"source_url"`
	ThreadPermalink string    `json:"thread_permalink"`
	FetchedAt       time.Time `json:"fetched_at"`

	// Duplicate is set when an identical file from an earlier run was found
	// and no new manifest entry was written.
	Duplicate bool `json:"-"`
}
