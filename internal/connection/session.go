package connection

import (
	"context"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/pkg/models"
)

// NewSession registers a session for caller. With watch set the session is
// cleaned up once the caller's process exits.
func (c *Connection) NewSession(ctx context.Context, caller models.Caller, id models.SessionID, watch bool) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidSession, "session id is required")
	}

	disconnect := func() {
		c.store.Publish(models.Event{Type: models.EventSessionClosed, SessionID: id})
	}
	if !c.registry.Create(id, caller, disconnect) {
		return errors.SessionExists(string(id))
	}
	if watch {
		c.registry.Watch(id)
	}

	c.logger.WithField("session", id).WithField("uid", caller.UID).Info("Session created")
	c.store.Publish(models.Event{Type: models.EventSessionCreated, SessionID: id})
	c.publishSessions()
	return nil
}

// Session returns a snapshot of a session owned by caller.
func (c *Connection) Session(caller models.Caller, id models.SessionID) (models.Session, error) {
	if err := c.owned(id, caller); err != nil {
		return models.Session{}, err
	}
	s, ok := c.registry.Get(id)
	if !ok {
		return models.Session{}, errors.SessionNotFound(string(id))
	}
	return s, nil
}

// CleanupSession removes a session of caller and cancels its speculation.
func (c *Connection) CleanupSession(ctx context.Context, caller models.Caller, id models.SessionID) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	c.cleanup(id)
	return nil
}

// Disconnect cleans up a session whose owner went away.
func (c *Connection) Disconnect(id models.SessionID) {
	if _, ok := c.registry.Owner(id); !ok {
		return
	}
	c.logger.WithField("session", id).Info("Session owner exited")
	c.store.Publish(models.Event{Type: models.EventDisconnected, SessionID: id})
	c.cleanup(id)
}

func (c *Connection) cleanup(id models.SessionID) {
	if !c.registry.Cleanup(id) {
		return
	}
	c.seq.Post(func() { c.coordinator.Cancel(id) })
	c.releaseAdopted(id)
	c.publishSessions()
}

// CleanupAll removes every session. Only the daemon user may call it.
func (c *Connection) CleanupAll(ctx context.Context, caller models.Caller) (int, error) {
	if err := c.admin(caller); err != nil {
		return 0, err
	}
	ids := c.registry.List()
	n := c.registry.CleanupAll()
	c.seq.Post(func() { c.coordinator.Cancel("") })
	for _, s := range ids {
		c.releaseAdopted(s.ID)
	}
	c.publishSessions()
	return n, nil
}

// ValidateRelationship starts verifying that the caller's package may act
// for origin. The result is published as an event.
func (c *Connection) ValidateRelationship(ctx context.Context, caller models.Caller, id models.SessionID, relation models.Relation, origin string) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	if !relation.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, "unknown relation").WithDetail("relation", string(relation))
	}
	if !c.registry.ValidateRelationship(id, relation, origin) {
		return errors.InvalidURL(origin)
	}
	return nil
}

// KeepAlive binds a keep-alive handle to the caller's session.
func (c *Connection) KeepAlive(ctx context.Context, caller models.Caller, id models.SessionID) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	k, err := c.keepAlive(id, caller)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to bind keep-alive")
	}
	if !c.registry.KeepAlive(id, k) {
		return errors.SessionNotFound(string(id))
	}
	c.publishSessions()
	return nil
}

// DontKeepAlive releases the session's keep-alive handle.
func (c *Connection) DontKeepAlive(ctx context.Context, caller models.Caller, id models.SessionID) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	c.registry.DontKeepAlive(id)
	c.publishSessions()
	return nil
}

// Flags returns the permission flags of the caller's session.
func (c *Connection) Flags(caller models.Caller, id models.SessionID) (models.PermissionFlags, error) {
	if err := c.owned(id, caller); err != nil {
		return models.PermissionFlags{}, err
	}
	flags, _ := c.registry.Flags(id)
	return flags, nil
}

// SetFlag sets one permission flag of the caller's session.
func (c *Connection) SetFlag(caller models.Caller, id models.SessionID, f models.Flag, v bool) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	if !c.registry.SetFlag(id, f, v) {
		return errors.New(errors.ErrCodeInvalidInput, "unknown flag").WithDetail("flag", string(f))
	}
	c.publishSessions()
	return nil
}

// Referrer returns the referrer of the caller's session.
func (c *Connection) Referrer(caller models.Caller, id models.SessionID) (string, error) {
	if err := c.owned(id, caller); err != nil {
		return "", err
	}
	return c.registry.Referrer(id), nil
}

// SetReferrer sets the referrer used for the caller's speculations.
func (c *Connection) SetReferrer(caller models.Caller, id models.SessionID, referrer string) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	c.registry.SetReferrer(id, referrer)
	c.publishSessions()
	return nil
}
