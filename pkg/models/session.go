package models

import (
	"time"
)

// UID is the OS-level identity of a calling process. Rate limiting and
// ownership checks are keyed by it.
type UID uint32

// Caller identifies the process on the other end of an RPC.
type Caller struct {
	UID UID `json:"uid"`
	PID int `json:"pid"`
}

// SessionID is the opaque handle a client supplies for its session.
type SessionID string

// Extras carries optional per-request parameters of a launch or prediction.
type Extras struct {
	// Referrer overrides the session referrer for the speculated navigation.
	Referrer string `json:"referrer,omitempty"`
}

// PredictionState is the last prediction a client made through may-launch.
type PredictionState struct {
	LastPredictedURL        string    `json:"last_predicted_url,omitempty"`
	LastPredictionTimestamp time.Time `json:"last_prediction_timestamp,omitempty"`
	SawLowConfidence        bool      `json:"saw_low_confidence"`
	SawHighConfidence       bool      `json:"saw_high_confidence"`
}

// Session is a read-only copy of a registered session, safe to hand to
// callers outside the registry lock.
type Session struct {
	ID            SessionID       `json:"id"`
	Owner         UID             `json:"owner"`
	OwnerPID      int             `json:"owner_pid"`
	PackageName   string          `json:"package_name"`
	Flags         PermissionFlags `json:"flags"`
	Referrer      string          `json:"referrer,omitempty"`
	Prediction    PredictionState `json:"prediction"`
	LinkedOrigins []string        `json:"linked_origins,omitempty"`
	KeepAlive     bool            `json:"keep_alive"`
	Watched       bool            `json:"watched"`
	CreatedAt     time.Time       `json:"created_at"`
}
