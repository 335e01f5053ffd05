package models

import "time"

// FeedEntry is one stored update of an emulated channel.
// A nil field means the update did not carry that field.
type FeedEntry struct {
	ChannelID string
	EntryID   int
	CreatedAt time.Time
	Fields    [FieldCount]*string
}
