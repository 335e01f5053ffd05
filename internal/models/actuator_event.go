package models

import "time"

// ActuatorEvent is a single entry of the actuator log.
type ActuatorEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	ChannelID   string    `json:"channel_id"`
	Type        string    `json:"type"`            // TOGGLE | WRITE_OK | WRITE_FAILED | LOCK_CONFIRMED | LOCK_EXPIRED
	Field       int       `json:"field,omitempty"` // 0 for channel-wide events
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
