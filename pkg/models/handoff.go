package models

import (
	"time"
)

// Handoff describes a speculated page whose ownership moved to a client.
type Handoff struct {
	ResourceID string    `json:"resource_id"`
	Engine     string    `json:"engine"`
	URL        string    `json:"url"`
	Referrer   string    `json:"referrer,omitempty"`
	Ready      bool      `json:"ready"`
	Status     int       `json:"status,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	LoadedAt   time.Time `json:"loaded_at,omitempty"`
}
