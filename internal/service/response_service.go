package service

import "time"

// LogFilter supports history filtering by time range, event type and channel.
type LogFilter struct {
	From      time.Time // inclusive; zero means no lower bound
	To        time.Time // inclusive; zero means no upper bound
	Type      string    // "", "TOGGLE", "WRITE_OK", "WRITE_FAILED", "LOCK_CONFIRMED", "LOCK_EXPIRED"
	ChannelID string    // "" means every channel
}
