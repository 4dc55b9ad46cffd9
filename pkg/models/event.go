package models

import (
	"time"
)

// EventType represents the type of event pushed to daemon subscribers.
type EventType string

const (
	EventSessionCreated       EventType = "session_created"
	EventSessionClosed        EventType = "session_closed"
	EventDisconnected         EventType = "disconnected"
	EventRelationshipVerified EventType = "relationship_verified"
	EventSpeculationStarted   EventType = "speculation_started"
	EventSpeculationTaken     EventType = "speculation_taken"
	EventSpeculationCancelled EventType = "speculation_cancelled"
	EventWarmupFinished       EventType = "warmup_finished"
	EventConfigReload         EventType = "config_reload"
)

// RelationshipResult is what the origin validator reports back.
type RelationshipResult struct {
	PackageName string   `json:"package_name"`
	Origin      string   `json:"origin"`
	Relation    Relation `json:"relation"`
	Verified    bool     `json:"verified"`
	// Online is nil when the verification never reached a source.
	Online *bool `json:"online,omitempty"`
}

// Event is a message delivered to clients listening on the event stream.
type Event struct {
	Type         EventType           `json:"type"`
	SessionID    SessionID           `json:"session_id,omitempty"`
	URL          string              `json:"url,omitempty"`
	Relationship *RelationshipResult `json:"relationship,omitempty"`
	Detail       string              `json:"detail,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}
