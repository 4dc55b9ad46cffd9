package connection

import (
	"context"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/speculation"
	"github.com/grovetools/tabsd/internal/throttle"
	"github.com/grovetools/tabsd/pkg/models"
)

// Ban permanently refuses speculative requests from uid until Reset.
func (c *Connection) Ban(ctx context.Context, caller models.Caller, uid models.UID) error {
	if err := c.admin(caller); err != nil {
		return err
	}
	c.throttle.Ban(uid)
	c.logger.WithField("uid", uid).Warn("Uid banned")
	return nil
}

// Reset clears the ban and request window of uid.
func (c *Connection) Reset(ctx context.Context, caller models.Caller, uid models.UID) error {
	if err := c.admin(caller); err != nil {
		return err
	}
	c.throttle.Reset(uid)
	c.logger.WithField("uid", uid).Info("Uid reset")
	return nil
}

// ThrottleStatus lists the rate limiter state of every known uid.
func (c *Connection) ThrottleStatus() []throttle.Status {
	return c.throttle.Statuses()
}

// UpdatePolicy replaces the speculation policy inputs. Only the daemon user
// may call it.
func (c *Connection) UpdatePolicy(ctx context.Context, caller models.Caller, policy config.PolicyConfig) error {
	if err := c.admin(caller); err != nil {
		return err
	}
	cfg := config.Default()
	cfg.Policy = policy
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	uids := make(map[models.UID]bool, len(policy.BackgroundUIDs))
	for _, uid := range policy.BackgroundUIDs {
		uids[models.UID(uid)] = true
	}
	c.mu.Lock()
	c.backgroundUIDs = uids
	c.mu.Unlock()

	p := speculation.PolicyFromConfig(cfg.Policy)
	if !c.seq.Post(func() { c.coordinator.SetPolicy(p) }) {
		return engineStopped()
	}
	return nil
}

// State returns the daemon state snapshot.
func (c *Connection) State() store.State {
	return c.store.Get()
}
