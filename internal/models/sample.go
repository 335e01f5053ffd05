package models

import "time"

// Sample is the latest channel entry as seen by a read.
type Sample struct {
	Fields    Fields
	EntryID   int
	CreatedAt time.Time
}

// Snapshot is the reconciled view of one channel handed to the UI.
type Snapshot struct {
	Fields      Fields     `json:"fields"`
	Loading     bool       `json:"loading"`
	LastUpdated *time.Time `json:"last_updated"`      // server timestamp of the last applied read
	Pending     []int      `json:"pending,omitempty"` // fields with an unconfirmed write
}
