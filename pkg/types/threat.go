package types

import "time"

// Status is the lifecycle state of a record. Only active records are served.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Votes are the community credibility counters attached to a record.
type Votes struct {
	Credible    int `json:"credible"`
	NotCredible int `json:"not_credible"`
}

// Record is one threat entry in the live feed.
type Record struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Category   string    `json:"type"`
	Severity   int       `json:"severity"`
	Summary    string    `json:"summary"`
	Regions    []string  `json:"regions"`
	Sources    []string  `json:"sources"`
	SourceURL  string    `json:"source_url,omitempty"`
	Location   string    `json:"location,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	SignalType string    `json:"signal_type,omitempty"`
	Status     Status    `json:"status"`
	Confidence int       `json:"confidence"`
	Votes      Votes     `json:"votes"`
	Timestamp  time.Time `json:"timestamp"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Active reports whether r may be returned to clients.
func (r Record) Active() bool { return r.Status == StatusActive }

// IngestInput is the caller-supplied part of a new record. Severity is a
// pointer so a missing value can be told apart from zero.
type IngestInput struct {
	Title      string   `json:"title"`
	Category   string   `json:"type"`
	Severity   *int     `json:"severity"`
	Summary    string   `json:"summary"`
	Regions    []string `json:"regions"`
	Sources    []string `json:"sources"`
	Location   string   `json:"location"`
	Tags       []string `json:"tags"`
	SignalType string   `json:"signal_type"`
}
