package types

import "time"

// Cursor tracks a consumer's position in one stream. Position never
// decreases; advancing to a lower position is rejected as stale.
type Cursor struct {
	ID         string     `json:"id"`
	StreamType StreamType `json:"stream_type"`
	StreamID   string     `json:"stream_id"`
	Position   int64      `json:"position"`
	ConsumerID *string    `json:"consumer_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
