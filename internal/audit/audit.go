// Package audit keeps a durable trail of review session mutations.
package audit

import "time"

// Entry is one recorded session event.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	ItemID    string    `json:"item_id,omitempty"`
	Action    string    `json:"action"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
