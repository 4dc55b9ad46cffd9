package connection

import (
	"context"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/navigation"
	"github.com/grovetools/tabsd/internal/urls"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Warmup queues the warmup chain. Callers that are neither in the foreground,
// allow-listed, nor the daemon user are refused.
func (c *Connection) Warmup(ctx context.Context, caller models.Caller) error {
	if !c.warmup.Warmup(caller) {
		c.denied(models.DeniedBackgroundCaller)
		return errors.BackgroundCaller(uint32(caller.UID), caller.PID)
	}
	c.registry.RecordWarmup(caller.UID)
	return nil
}

// HasWarmedUp reports whether warmup was ever accepted.
func (c *Connection) HasWarmedUp() bool { return c.warmup.HasBeenCalled() }

// MayLaunchURL records a prediction that the user will open url next and,
// when allowed, speculates on it. An empty url with otherLikely urls is a
// low-confidence hint; those urls are only preconnected. It returns once the
// work is queued.
func (c *Connection) MayLaunchURL(ctx context.Context, caller models.Caller, id models.SessionID, url string, extras models.Extras, otherLikely []string) error {
	c.mu.RLock()
	requireWarmup := c.requireWarmup
	c.mu.RUnlock()
	if requireWarmup && !c.warmup.HasBeenCalled() {
		c.denied(models.DeniedWarmupNotCalled)
		return errors.PolicyDenied(string(models.DeniedWarmupNotCalled))
	}
	if err := c.owned(id, caller); err != nil {
		return err
	}

	lowConfidence := url == "" && len(otherLikely) > 0
	if url != "" {
		normalized, ok := urls.Normalize(url)
		if !ok {
			return errors.InvalidURL(url)
		}
		url = normalized
	}

	reason, ok := c.registry.UpdatePrediction(id, caller.UID, url, lowConfidence)
	switch {
	case !ok:
		// Closed since the ownership check.
		return errors.SessionNotFound(string(id))
	case reason == models.DeniedBanned:
		return errors.Banned(uint32(caller.UID))
	case reason != models.Allowed:
		return errors.RateLimited(uint32(caller.UID))
	}

	if lowConfidence {
		c.seq.Post(func() { c.preconnectAll(otherLikely) })
		return nil
	}

	c.seq.Post(func() { c.highConfidence(ctx, id, url, extras, otherLikely) })
	return nil
}

// highConfidence runs on the sequencing context.
func (c *Connection) highConfidence(ctx context.Context, id models.SessionID, url string, extras models.Extras, otherLikely []string) {
	// An empty url withdraws the session's prediction.
	if url == "" {
		c.coordinator.Cancel(id)
		return
	}

	if current, ok := c.coordinator.SpeculatedURL(id); ok && current == url {
		return
	}

	if reason := c.coordinator.MaySpeculate(id); reason != models.Allowed {
		c.logger.WithFields(logrus.Fields{"session": id, "reason": reason}).Debug("Speculation denied")
		c.preconnectAll(append([]string{url}, otherLikely...))
		return
	}

	flags, ok := c.registry.Flags(id)
	if !ok {
		return
	}
	// The request context ends when the handler returns.
	c.coordinator.Start(context.WithoutCancel(ctx), id, url, flags.CanUseHiddenTab, extras)
	c.preconnectAll(otherLikely)
}

// denied counts a refusal decided at the connection boundary.
func (c *Connection) denied(reason models.DenialReason) {
	c.metrics.RecordEnumerated(metrics.SpeculationDenied, reason.Bucket(), len(models.DenialBuckets))
}

func (c *Connection) preconnectAll(list []string) {
	for _, raw := range list {
		if u, ok := urls.Normalize(raw); ok {
			c.coordinator.Preconnect(u)
		}
	}
}

// TakeHiddenTab hands the session's speculation to the caller if it was for
// url and referrer. Once the caller is known to own the session, pending
// warmup steps are dropped. A nil handoff with a nil error means there was
// nothing to take.
func (c *Connection) TakeHiddenTab(ctx context.Context, caller models.Caller, id models.SessionID, url, referrer string) (*navigation.Handoff, error) {
	if err := c.owned(id, caller); err != nil {
		return nil, err
	}
	c.warmup.CancelPending()
	if normalized, ok := urls.Normalize(url); ok {
		url = normalized
	}

	var res navigation.Resource
	if err := c.seq.Do(ctx, func() { res = c.coordinator.Take(id, url, referrer) }); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	c.adoptedMu.Lock()
	c.adopted[id] = append(c.adopted[id], res)
	c.adoptedMu.Unlock()

	h, err := res.Handoff(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to hand off hidden tab")
	}
	return &h, nil
}

// RegisterLaunch tells the daemon the caller opened url.
func (c *Connection) RegisterLaunch(ctx context.Context, caller models.Caller, id models.SessionID, url string) (models.PredictionOutcome, error) {
	if owner, ok := c.registry.Owner(id); ok && owner.UID != caller.UID {
		return models.NoPrediction, errors.IdentityMismatch(string(id), uint32(caller.UID))
	}
	if normalized, ok := urls.Normalize(url); ok {
		url = normalized
	}
	return c.registry.RegisterLaunch(id, url), nil
}

// CancelSpeculation cancels the session's speculation, if any.
func (c *Connection) CancelSpeculation(ctx context.Context, caller models.Caller, id models.SessionID) error {
	if err := c.owned(id, caller); err != nil {
		return err
	}
	if !c.seq.Post(func() { c.coordinator.Cancel(id) }) {
		return engineStopped()
	}
	return nil
}

func (c *Connection) releaseAdopted(id models.SessionID) {
	c.adoptedMu.Lock()
	list := c.adopted[id]
	delete(c.adopted, id)
	c.adoptedMu.Unlock()

	for _, res := range list {
		if err := errors.Recover("release hidden tab", res.Destroy); err != nil {
			c.logger.WithError(err).WithField("session", id).Debug("Failed to release hidden tab")
		}
	}
}
