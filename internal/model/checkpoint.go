package model

import (
	"maps"
	"time"
)

// ForumState is the terminal or in-progress state of one forum crawl.
type ForumState string

const (
	// StatePending means the forum has not been started in this run.
	StatePending ForumState = "pending"
	// StateRunning means the forum was interrupted mid-crawl and can be resumed.
	StateRunning ForumState = "running"
	// StateDone means pagination finished or the page cap was reached.
	StateDone ForumState = "done"
	// StateAborted means the consecutive error threshold was exceeded.
	StateAborted ForumState = "aborted"
)

// Counters are the cumulative per-forum numbers printed at the end of a run.
type Counters struct {
	PagesFetched           int            `json:"pages_fetched"`
	ThreadsDiscovered      int            `json:"threads_discovered"`
	PostsExtracted         int            `json:"posts_extracted"`
	PostsDuplicate         int            `json:"posts_duplicate"`
	FieldsMissing          int            `json:"fields_missing"`
	IndicatorsFound        int            `json:"indicators_found"`
	AttachmentsQuarantined int            `json:"attachments_quarantined"`
	AttachmentsRejected    map[string]int `json:"attachments_rejected,omitempty"`
	Errors                 map[string]int `json:"errors,omitempty"`
}

// AddError counts one failure of the given kind.
func (c *Counters) AddError(kind string) {
	if c.Errors == nil {
		c.Errors = make(map[string]int)
	}
	c.Errors[kind]++
}

// AddRejection counts one attachment rejected for reason.
func (c *Counters) AddRejection(reason string) {
	if c.AttachmentsRejected == nil {
		c.AttachmentsRejected = make(map[string]int)
	}
	c.AttachmentsRejected[reason]++
}

// TotalErrors sums errors of every kind.
func (c *Counters) TotalErrors() int {
	total := 0
	for _, n := range c.Errors {
		total += n
	}
	return total
}

// TotalRejected sums rejected attachments over every reason.
func (c *Counters) TotalRejected() int {
	total := 0
	for _, n := range c.AttachmentsRejected {
		total += n
	}
	return total
}

// Merge adds o to c.
func (c *Counters) Merge(o Counters) {
	c.PagesFetched += o.PagesFetched
	c.ThreadsDiscovered += o.ThreadsDiscovered
	c.PostsExtracted += o.PostsExtracted
	c.PostsDuplicate += o.PostsDuplicate
	c.FieldsMissing += o.FieldsMissing
	c.IndicatorsFound += o.IndicatorsFound
	c.AttachmentsQuarantined += o.AttachmentsQuarantined
	for reason, n := range o.AttachmentsRejected {
		if c.AttachmentsRejected == nil {
			c.AttachmentsRejected = make(map[string]int)
		}
		c.AttachmentsRejected[reason] += n
	}
	for kind, n := range o.Errors {
		if c.Errors == nil {
			c.Errors = make(map[string]int)
		}
		c.Errors[kind] += n
	}
}

// Checkpoint is the per-forum progress of a crawl. The crawler is its only
// writer; it is saved after every listing page so an interrupted run can
// pick up where it stopped.
type Checkpoint struct {
	RunID    string     `json:"run_id"`
	ForumKey string     `json:"forum"`
	Engine   string     `json:"engine"`
	State    ForumState `json:"state"`

	// ListIndex is the index of the listing URL being paginated.
	ListIndex int `json:"list_index"`
	// NextURL is the next listing page to fetch. Empty means start of
	// ListIndex's chain.
	NextURL string `json:"next_url,omitempty"`
	// Page counts listing pages fetched in the current chain. The page cap
	// applies to each chain.
	Page int `json:"page"`

	ConsecutiveErrors int      `json:"consecutive_errors"`
	Counters          Counters `json:"counters"`
	AbortReason       string   `json:"abort_reason,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCheckpoint returns a pending checkpoint for forumKey.
func NewCheckpoint(runID, forumKey string) *Checkpoint {
	return &Checkpoint{
		RunID:    runID,
		ForumKey: forumKey,
		State:    StatePending,
	}
}

// Finished reports whether the forum reached a terminal state.
func (c *Checkpoint) Finished() bool {
	return c.State == StateDone || c.State == StateAborted
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.Counters.Errors = maps.Clone(c.Counters.Errors)
	cp.Counters.AttachmentsRejected = maps.Clone(c.Counters.AttachmentsRejected)
	return &cp
}
