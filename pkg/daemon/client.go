// Package daemon provides a client for the tabsd daemon and the config
// watcher the daemon runs.
package daemon

import (
	"context"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/internal/daemon/server"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/throttle"
	"github.com/grovetools/tabsd/pkg/models"
)

// Client defines the interface for interacting with the tabsd daemon.
// The daemon identifies the caller from the socket, so no method takes one.
type Client interface {
	// NewSession registers a session owned by the calling process.
	NewSession(ctx context.Context, id models.SessionID, watch bool) (models.Session, error)
	Session(ctx context.Context, id models.SessionID) (models.Session, error)
	CleanupSession(ctx context.Context, id models.SessionID) error

	Flags(ctx context.Context, id models.SessionID) (models.PermissionFlags, error)
	SetFlag(ctx context.Context, id models.SessionID, flag models.Flag, value bool) (models.PermissionFlags, error)
	Referrer(ctx context.Context, id models.SessionID) (string, error)
	SetReferrer(ctx context.Context, id models.SessionID, referrer string) error
	KeepAlive(ctx context.Context, id models.SessionID) error
	DontKeepAlive(ctx context.Context, id models.SessionID) error
	// ValidateRelationship starts a verification; the result arrives as an event.
	ValidateRelationship(ctx context.Context, id models.SessionID, relation models.Relation, origin string) error

	Warmup(ctx context.Context) error
	// MayLaunchURL reports whether the prediction was accepted. A refusal
	// comes back as false together with the coded error.
	MayLaunchURL(ctx context.Context, id models.SessionID, url string, extras models.Extras, otherLikely []string) (bool, error)
	// TakeHiddenTab returns nil when there was nothing matching to take.
	TakeHiddenTab(ctx context.Context, id models.SessionID, url, referrer string) (*models.Handoff, error)
	RegisterLaunch(ctx context.Context, id models.SessionID, url string) (models.PredictionOutcome, error)
	CancelSpeculation(ctx context.Context, id models.SessionID) error

	GetState(ctx context.Context) (*store.State, error)
	GetConfig(ctx context.Context) (*server.RunningConfig, error)
	GetMetrics(ctx context.Context) (*metrics.Snapshot, error)
	GetThrottle(ctx context.Context) ([]throttle.Status, error)

	// Admin operations; only the daemon's own user may call them.
	CleanupAll(ctx context.Context) (int, error)
	Ban(ctx context.Context, uid models.UID) error
	Reset(ctx context.Context, uid models.UID) error
	UpdatePolicy(ctx context.Context, policy config.PolicyConfig) error

	// StreamState subscribes to real-time state updates over SSE.
	// The channel is closed when the context is cancelled or the connection is lost.
	StreamState(ctx context.Context) (<-chan StateUpdate, error)

	// Watch subscribes to the same updates over a websocket.
	Watch(ctx context.Context) (<-chan StateUpdate, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}

// StateUpdate represents an update pushed from the daemon to subscribers.
// The first update of a stream has type "initial" and carries the full state.
type StateUpdate = store.Update
