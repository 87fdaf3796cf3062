package domain

import "time"

// Digest is the produced artifact of one schedule occurrence: the articles
// and summary that were recorded and delivered. Rows are append-only; the
// sweeper prunes them past the retention window.
type Digest struct {
	ID         string
	UserID     string
	ScheduleID string
	Subject    string
	Topics     []string
	Items      []DigestItem
	Summary    string
	CreatedAt  time.Time
}

// DigestItem is one article included in a digest. The json tags are the
// storage encoding inside the digests.items column.
type DigestItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Topic   string `json:"topic,omitempty"`
	Summary string `json:"summary,omitempty"`
}
