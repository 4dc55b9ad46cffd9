// Package store provides the in-memory state store for the tabsd daemon.
package store

import (
	"time"

	"github.com/grovetools/tabsd/pkg/models"
)

// State represents the complete world view of the daemon.
type State struct {
	Sessions    map[models.SessionID]models.Session `json:"sessions"` // Keyed by ID
	Speculation SpeculationStatus                   `json:"speculation"`
	Warmup      WarmupStatus                        `json:"warmup"`
	ConfigPath  string                              `json:"config_path,omitempty"`
	StartedAt   time.Time                           `json:"started_at"`
}

// SpeculationStatus describes the speculation slot.
type SpeculationStatus struct {
	State     models.SpeculationState `json:"state"`
	SessionID models.SessionID        `json:"session_id,omitempty"`
	URL       string                  `json:"url,omitempty"`
	Referrer  string                  `json:"referrer,omitempty"`
	HiddenTab bool                    `json:"hidden_tab,omitempty"`
	Engine    string                  `json:"engine,omitempty"`
	StartedAt time.Time               `json:"started_at,omitempty"`
}

// WarmupStatus describes the warmup sequencer.
type WarmupStatus struct {
	Called   bool      `json:"called"`
	Finished bool      `json:"finished"`
	Calls    int       `json:"calls"`
	LastAt   time.Time `json:"last_at,omitempty"`
}

// UpdateType defines what kind of data changed.
type UpdateType string

const (
	UpdateSessions     UpdateType = "sessions"
	UpdateSpeculation  UpdateType = "speculation"
	UpdateWarmup       UpdateType = "warmup"
	UpdateEvent        UpdateType = "event"
	UpdateConfigReload UpdateType = "config_reload"
)

// Update represents a change to the state.
type Update struct {
	Type    UpdateType    `json:"type"`
	Source  string        `json:"source,omitempty"` // Component that sent this update (e.g. "liveness", "speculation")
	Event   *models.Event `json:"event,omitempty"`
	Payload interface{}   `json:"payload,omitempty"`
}
