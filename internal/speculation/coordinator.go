// Package speculation owns the single in-flight speculative navigation.
//
// Every Coordinator method other than New must run on the sequencing
// context passed in Options.Post. The coordinator keeps no locks.
package speculation

import (
	"context"
	"time"

	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/navigation"
	"github.com/grovetools/tabsd/internal/urls"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Sessions is the registry view the coordinator reads.
type Sessions interface {
	Flags(id models.SessionID) (models.PermissionFlags, bool)
	Referrer(id models.SessionID) string
}

// Preconnector opens a best-effort connection to a url's origin.
type Preconnector interface {
	Preconnect(url string) bool
}

// Status is the externally visible slot state.
type Status struct {
	State     models.SpeculationState
	SessionID models.SessionID
	URL       string
	Referrer  string
	HiddenTab bool
	StartedAt time.Time
}

// Outcome says how a slot ended.
type Outcome string

const (
	OutcomeStarted    Outcome = "started"
	OutcomeTaken      Outcome = "taken"
	OutcomeNotMatched Outcome = "not_matched"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeCrashed    Outcome = "crashed"
)

// Options configures a Coordinator.
type Options struct {
	Factory      navigation.Factory
	Preconnector Preconnector
	Sessions     Sessions
	Policy       Policy
	Metrics      metrics.Sink
	Logger       *logrus.Entry
	// Post queues a task on the sequencing context.
	Post func(func()) bool
	// OnChange is called on the sequencing context after each transition.
	OnChange func(status Status, outcome Outcome)
}

// Coordinator is the speculation state machine: Idle, then Speculating, then
// back to Idle by take or cancel.
type Coordinator struct {
	factory    navigation.Factory
	preconnect Preconnector
	sessions   Sessions
	policy     Policy
	metrics    metrics.Sink
	logger     *logrus.Entry
	post       func(func()) bool
	onChange   func(Status, Outcome)

	slot      *slot
	nextToken uint64
}

type slot struct {
	session   models.SessionID
	url       string
	referrer  string
	extras    models.Extras
	resource  navigation.Resource
	observer  *crashObserver
	startedAt time.Time
}

// crashObserver ties a resource failure to the slot it was created for.
type crashObserver struct {
	c     *Coordinator
	token uint64
}

// OnCrash runs on the resource's goroutine. The cancel is posted so that
// state only changes on the sequencing context.
func (o *crashObserver) OnCrash(res navigation.Resource, err error) {
	o.c.post(func() { o.c.onCrash(o.token, err) })
}

// New creates an idle Coordinator.
func New(opts Options) *Coordinator {
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		factory:    opts.Factory,
		preconnect: opts.Preconnector,
		sessions:   opts.Sessions,
		policy:     opts.Policy,
		metrics:    sink,
		logger:     logger,
		post:       opts.Post,
		onChange:   opts.OnChange,
	}
}

// SetPolicy replaces the policy inputs.
func (c *Coordinator) SetPolicy(p Policy) { c.policy = p }

// Policy returns the current policy inputs.
func (c *Coordinator) Policy() Policy { return c.policy }

// MaySpeculate reports whether speculation is allowed for a session, or the
// first reason it is not.
func (c *Coordinator) MaySpeculate(id models.SessionID) models.DenialReason {
	flags, _ := c.sessions.Flags(id)
	reason := c.policy.evaluate(flags)
	if reason != models.Allowed {
		c.metrics.RecordEnumerated(metrics.SpeculationDenied, reason.Bucket(), len(models.DenialBuckets))
	}
	return reason
}

// Start replaces any existing slot with a speculation of url for a session.
// A preconnect to url is always issued. Without useHiddenTab no url is bound:
// a spare render resource is prewarmed and the slot stays empty.
func (c *Coordinator) Start(ctx context.Context, id models.SessionID, url string, useHiddenTab bool, extras models.Extras) {
	c.Cancel("")

	if c.preconnect != nil {
		c.preconnect.Preconnect(url)
	}

	if !useHiddenTab {
		c.metrics.RecordEnumerated(metrics.SpeculationDenied, models.DeniedHiddenTabNotAllowed.Bucket(), len(models.DenialBuckets))
		if err := c.factory.Prewarm(ctx); err != nil {
			c.logger.WithError(err).Debug("Failed to prewarm render resource")
		}
		c.logger.WithFields(logrus.Fields{"session": id, "url": url}).Debug("Hidden tab not allowed, prewarmed instead")
		return
	}

	referrer := extras.Referrer
	if referrer == "" {
		referrer = c.sessions.Referrer(id)
	}

	res, err := c.factory.Create(ctx)
	if err != nil {
		c.logger.WithError(err).WithField("url", url).Warn("Failed to create hidden tab")
		return
	}
	c.nextToken++
	s := &slot{
		session:   id,
		url:       url,
		referrer:  referrer,
		extras:    extras,
		resource:  res,
		observer:  &crashObserver{c: c, token: c.nextToken},
		startedAt: time.Now(),
	}
	res.AddObserver(s.observer)
	if err := res.Load(url, referrer); err != nil {
		c.logger.WithError(err).WithField("url", url).Warn("Failed to load hidden tab")
		res.RemoveObserver(s.observer)
		res.Destroy()
		return
	}

	c.slot = s
	c.metrics.RecordEvent(metrics.SpeculationStarted, 1)
	c.logger.WithFields(logrus.Fields{
		"session": id,
		"url":     url,
	}).Debug("Speculation started")
	c.changed(OutcomeStarted)
}

// Take hands the slot's resource to the caller when url and referrer match
// the slot owned by id. A slot of id that does not match is destroyed. It
// returns nil without side effects when there is no slot for id.
func (c *Coordinator) Take(id models.SessionID, url, referrer string) navigation.Resource {
	s := c.slot
	if s == nil || id == "" || s.session != id {
		return nil
	}

	flags, _ := c.sessions.Flags(id)
	matched := urls.Match(s.url, url, flags.IgnoreURLFragments) && s.referrer == referrer

	c.slot = nil
	s.resource.RemoveObserver(s.observer)

	if !matched {
		s.resource.Destroy()
		c.metrics.RecordEvent(metrics.SpeculationNotMatched, 1)
		c.changed(OutcomeNotMatched)
		return nil
	}

	c.metrics.RecordEvent(metrics.SpeculationTaken, 1)
	c.changed(OutcomeTaken)
	return s.resource
}

// Cancel destroys the slot if id is empty or owns it. It is a no-op when
// idle.
func (c *Coordinator) Cancel(id models.SessionID) {
	if c.cancel(id) {
		c.metrics.RecordEvent(metrics.SpeculationCancelled, 1)
		c.changed(OutcomeCancelled)
	}
}

func (c *Coordinator) cancel(id models.SessionID) bool {
	s := c.slot
	if s == nil || (id != "" && id != s.session) {
		return false
	}
	c.slot = nil
	s.resource.RemoveObserver(s.observer)
	if err := s.resource.Destroy(); err != nil {
		c.logger.WithError(err).Debug("Failed to destroy hidden tab")
	}
	return true
}

// onCrash cancels the slot if it is still the one the crash belongs to.
func (c *Coordinator) onCrash(token uint64, err error) {
	s := c.slot
	if s == nil || s.observer.token != token {
		return
	}
	c.logger.WithError(err).WithField("url", s.url).Info("Hidden tab crashed, cancelling speculation")
	c.cancel("")
	c.metrics.RecordEvent(metrics.SpeculationCrashed, 1)
	c.changed(OutcomeCrashed)
}

// InFlight reports whether a hidden tab is being speculated.
func (c *Coordinator) InFlight() bool { return c.slot != nil }

// Status describes the current slot.
func (c *Coordinator) Status() Status {
	s := c.slot
	if s == nil {
		return Status{State: models.SpeculationIdle}
	}
	return Status{
		State:     models.SpeculationSpeculating,
		SessionID: s.session,
		URL:       s.url,
		Referrer:  s.referrer,
		HiddenTab: true,
		StartedAt: s.startedAt,
	}
}

// SpeculatedURL returns the url of the slot owned by id, if any.
func (c *Coordinator) SpeculatedURL(id models.SessionID) (string, bool) {
	if c.slot == nil || c.slot.session != id {
		return "", false
	}
	return c.slot.url, true
}

func (c *Coordinator) changed(outcome Outcome) {
	if c.onChange != nil {
		c.onChange(c.Status(), outcome)
	}
}

// Preconnect issues a best-effort preconnect to url without speculating.
func (c *Coordinator) Preconnect(url string) {
	if c.preconnect != nil {
		c.preconnect.Preconnect(url)
	}
}
