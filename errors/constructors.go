package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *TabsError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *TabsError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *TabsError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("session", sessionID)
}

// SessionExists creates a duplicate session error
func SessionExists(sessionID string) *TabsError {
	return New(ErrCodeSessionExists, fmt.Sprintf("session '%s' already exists", sessionID)).
		WithDetail("session", sessionID)
}

// IdentityMismatch creates an error for a caller that does not own the session
func IdentityMismatch(sessionID string, uid uint32) *TabsError {
	return New(ErrCodeIdentityMismatch,
		fmt.Sprintf("uid %d does not own session '%s'", uid, sessionID)).
		WithDetail("session", sessionID).
		WithDetail("uid", uid)
}

// InvalidURL creates an error for a url the daemon refuses to handle
func InvalidURL(raw string) *TabsError {
	return New(ErrCodeInvalidURL, fmt.Sprintf("invalid url: %q", raw)).
		WithDetail("url", raw)
}

// PolicyDenied creates a policy denial error carrying the denial reason
func PolicyDenied(reason string) *TabsError {
	return New(ErrCodePolicyDenied, fmt.Sprintf("speculation denied: %s", reason)).
		WithDetail("reason", reason)
}

// RateLimited creates a rate limiting error for a uid
func RateLimited(uid uint32) *TabsError {
	return New(ErrCodeRateLimited, fmt.Sprintf("uid %d exceeded the speculation budget", uid)).
		WithDetail("uid", uid)
}

// Banned creates an error for a uid refused until an admin resets it
func Banned(uid uint32) *TabsError {
	return New(ErrCodeBanned, fmt.Sprintf("uid %d is banned from speculation", uid)).
		WithDetail("uid", uid)
}

// BackgroundCaller creates an error for callers that are neither foreground nor self
func BackgroundCaller(uid uint32, pid int) *TabsError {
	return New(ErrCodeBackgroundCaller, "caller is not in the foreground").
		WithDetail("uid", uid).
		WithDetail("pid", pid)
}

// DaemonNotRunning creates an error for a missing daemon socket
func DaemonNotRunning(socketPath string, err error) *TabsError {
	return Wrap(err, ErrCodeDaemonNotRunning, "tabsd daemon is not running").
		WithDetail("socket", socketPath)
}
