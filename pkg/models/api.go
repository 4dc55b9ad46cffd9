package models

// NewSessionRequest is the body of POST /api/sessions.
type NewSessionRequest struct {
	SessionID SessionID `json:"session_id"`
	// Watch asks the daemon to clean the session up when the caller exits.
	Watch bool `json:"watch,omitempty"`
}

// SetFlagRequest is the body of PUT /api/sessions/{id}/flags.
type SetFlagRequest struct {
	Flag  Flag `json:"flag"`
	Value bool `json:"value"`
}

// ReferrerRequest is the body of PUT /api/sessions/{id}/referrer and the
// response of the matching GET.
type ReferrerRequest struct {
	Referrer string `json:"referrer"`
}

// RelationshipRequest is the body of POST /api/sessions/{id}/relationship.
type RelationshipRequest struct {
	Relation Relation `json:"relation"`
	Origin   string   `json:"origin"`
}

// MayLaunchRequest is the body of POST /api/sessions/{id}/may-launch.
type MayLaunchRequest struct {
	URL         string   `json:"url,omitempty"`
	Extras      Extras   `json:"extras,omitempty"`
	OtherLikely []string `json:"other_likely,omitempty"`
}

// MayLaunchResponse reports whether a prediction was accepted.
type MayLaunchResponse struct {
	Allowed bool `json:"allowed"`
}

// TakeRequest is the body of POST /api/sessions/{id}/take.
type TakeRequest struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
}

// LaunchRequest is the body of POST /api/sessions/{id}/launch.
type LaunchRequest struct {
	URL string `json:"url"`
}

// LaunchResponse carries the prediction outcome of a launch.
type LaunchResponse struct {
	Outcome PredictionOutcome `json:"outcome"`
}

// UIDRequest is the body of the ban and reset admin endpoints.
type UIDRequest struct {
	UID UID `json:"uid"`
}

// CleanupResponse reports how many sessions an admin cleanup removed.
type CleanupResponse struct {
	Cleaned int `json:"cleaned"`
}
