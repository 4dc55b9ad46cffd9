// Package clients is the session registry: every client session, its
// permissions, its last prediction and its verified origins.
package clients

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/urls"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

// KeepAlive is an external binding held while a client wants its process
// kept at elevated priority.
type KeepAlive interface {
	Release() error
}

// Limiter is the part of the throttle the registry consults.
type Limiter interface {
	Check(uid models.UID) models.DenialReason
	RegisterSuccess(uid models.UID)
}

// OriginValidator verifies an app to web origin relationship. Verify must not
// block; done is called once, from any goroutine.
type OriginValidator interface {
	Verify(ctx context.Context, packageName, origin string, relation models.Relation, done func(models.RelationshipResult))
}

// RelationshipListener is told about every finished verification.
type RelationshipListener func(id models.SessionID, res models.RelationshipResult)

// MayLaunchURL types recorded on launch.
const (
	mayLaunchNone = iota
	mayLaunchLowConfidence
	mayLaunchHighConfidence
	mayLaunchBoth
	mayLaunchTypeCount
)

// Options are the collaborators of a Registry. Only Limiter is required.
type Options struct {
	Limiter         Limiter
	Validator       OriginValidator
	Metrics         metrics.Sink
	Logger          *logrus.Entry
	DefaultFlags    models.PermissionFlags
	PackageResolver func(models.Caller) string
	OnRelationship  RelationshipListener
}

// Registry maps session ids to sessions. One mutex guards all of it.
type Registry struct {
	mu              sync.Mutex
	sessions        map[models.SessionID]*session
	warmupCalled    bool
	uidCalledWarmup map[models.UID]bool
	defaultFlags    models.PermissionFlags

	limiter         Limiter
	validator       OriginValidator
	metrics         metrics.Sink
	logger          *logrus.Entry
	packageResolver func(models.Caller) string
	onRelationship  RelationshipListener

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Logger = logrus.NewEntry(l)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:        make(map[models.SessionID]*session),
		uidCalledWarmup: make(map[models.UID]bool),
		defaultFlags:    opts.DefaultFlags,
		limiter:         opts.Limiter,
		validator:       opts.Validator,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		packageResolver: opts.PackageResolver,
		onRelationship:  opts.OnRelationship,
		ctx:             ctx,
		cancel:          cancel,
		now:             time.Now,
	}
}

// Close abandons pending origin verifications.
func (r *Registry) Close() {
	r.cancel()
}

// assertLocked panics unless r.mu is held.
func (r *Registry) assertLocked() {
	if r.mu.TryLock() {
		r.mu.Unlock()
		panic("clients: session state accessed without the registry lock")
	}
}

// SetDefaultFlags changes the flags new sessions start with.
func (r *Registry) SetDefaultFlags(f models.PermissionFlags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultFlags = f
}

// Create registers a new session owned by caller. It fails on an empty or
// already registered id. disconnect runs once when the session is cleaned up.
func (r *Registry) Create(id models.SessionID, caller models.Caller, disconnect func()) bool {
	if id == "" {
		return false
	}

	// Resolved before taking the lock since it may read /proc.
	var pkg string
	if r.packageResolver != nil {
		pkg = r.packageResolver(caller)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = &session{
		reg:         r,
		id:          id,
		owner:       caller,
		packageName: pkg,
		createdAt:   r.now(),
		guarded: guardedState{
			flags:      r.defaultFlags,
			disconnect: disconnect,
		},
	}
	r.logger.WithFields(logrus.Fields{"session": id, "uid": caller.UID, "package": pkg}).Info("Session created")
	return true
}

// Watch marks a session for cleanup once its owner process exits.
func (r *Registry) Watch(id models.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.watched = true
	return true
}

// Get returns a copy of a session.
func (r *Registry) Get(id models.SessionID) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return s.snapshot(), true
}

// Owner returns the caller that created a session.
func (r *Registry) Owner(id models.SessionID) (models.Caller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return models.Caller{}, false
	}
	return s.owner, true
}

// List returns every session ordered by creation time.
func (r *Registry) List() []models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Watched returns the sessions created with Watch.
func (r *Registry) Watched() []models.Session {
	var out []models.Session
	for _, s := range r.List() {
		if s.Watched {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// UpdatePredictionAndCheckAllowed records a may-launch prediction and decides
// whether the caller may speculate on it. It refuses unknown sessions and
// callers other than the session owner. The first low-confidence prediction
// without a url is always allowed; everything else goes to the limiter.
func (r *Registry) UpdatePredictionAndCheckAllowed(id models.SessionID, uid models.UID, url string, lowConfidence bool) bool {
	reason, ok := r.UpdatePrediction(id, uid, url, lowConfidence)
	return ok && reason == models.Allowed
}

// UpdatePrediction is UpdatePredictionAndCheckAllowed returning the denial
// reason. ok is false, and nothing is recorded, when the session is missing
// or owned by another uid. Denials are counted in SpeculationDenied.
func (r *Registry) UpdatePrediction(id models.SessionID, uid models.UID, url string, lowConfidence bool) (reason models.DenialReason, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.owner.UID != uid {
		return models.Allowed, false
	}

	firstLowConfidence := url == "" && lowConfidence && !s.prediction().SawLowConfidence
	s.recordPrediction(url, r.now(), lowConfidence)
	if firstLowConfidence {
		return models.Allowed, true
	}
	reason = r.limiter.Check(uid)
	if reason != models.Allowed {
		r.metrics.RecordEnumerated(metrics.SpeculationDenied, reason.Bucket(), len(models.DenialBuckets))
	}
	return reason, true
}

// RegisterLaunch classifies a launch against the last prediction of the
// session, records it and resets the prediction.
func (r *Registry) RegisterLaunch(id models.SessionID, url string) models.PredictionOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	outcome := models.NoPrediction
	if ok {
		outcome = predictionOutcome(s.prediction(), s.flags().IgnoreURLFragments, url)
	} else {
		r.logger.WithField("session", id).Debug("Launch registered for unknown session")
	}
	r.metrics.RecordEnumerated(metrics.PredictionOutcome, int(outcome), models.PredictionOutcomeCount)

	if outcome == models.GoodPrediction {
		elapsed := r.now().Sub(s.prediction().LastPredictionTimestamp)
		r.metrics.RecordEvent(metrics.PredictionToLaunchMs, elapsed.Milliseconds())
		r.limiter.RegisterSuccess(s.owner.UID)
	}

	r.metrics.RecordEnumerated(metrics.WarmupStateOnLaunch, int(r.warmupStateLocked(s)), models.WarmupStateCount)

	if ok {
		r.metrics.RecordEnumerated(metrics.MayLaunchURLType, mayLaunchType(s.prediction()), mayLaunchTypeCount)
		s.resetPrediction()
	}
	return outcome
}

func predictionOutcome(p models.PredictionState, ignoreFragments bool, url string) models.PredictionOutcome {
	if p.LastPredictedURL == "" {
		return models.NoPrediction
	}
	if urls.Match(p.LastPredictedURL, url, ignoreFragments) {
		return models.GoodPrediction
	}
	return models.BadPrediction
}

func mayLaunchType(p models.PredictionState) int {
	switch {
	case p.SawLowConfidence && p.SawHighConfidence:
		return mayLaunchBoth
	case p.SawHighConfidence:
		return mayLaunchHighConfidence
	case p.SawLowConfidence:
		return mayLaunchLowConfidence
	}
	return mayLaunchNone
}

// RecordWarmup notes that uid called warmup.
func (r *Registry) RecordWarmup(uid models.UID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.warmupCalled = true
	r.uidCalledWarmup[uid] = true
}

// WarmupState classifies a launch by whether a session exists and warmup ran.
func (r *Registry) WarmupState(id models.SessionID) models.WarmupStateOnLaunch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warmupStateLocked(r.sessions[id])
}

func (r *Registry) warmupStateLocked(s *session) models.WarmupStateOnLaunch {
	r.assertLocked()
	if s != nil {
		switch {
		case r.uidCalledWarmup[s.owner.UID]:
			return models.SessionWarmup
		case r.warmupCalled:
			return models.SessionNoWarmupAlreadyCalled
		}
		return models.SessionNoWarmupNotCalled
	}
	if r.warmupCalled {
		return models.NoSessionWarmup
	}
	return models.NoSessionNoWarmup
}

// Cleanup removes a session, releases its keep-alive binding and runs its
// disconnect callback. It reports whether the session existed; a second call
// is a no-op.
func (r *Registry) Cleanup(id models.SessionID) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	var keepAlive KeepAlive
	var disconnect func()
	if ok {
		keepAlive, disconnect = s.detach()
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	// Client code runs outside the lock so it can call back into the registry.
	if keepAlive != nil {
		if err := errors.Recover("keep-alive release", keepAlive.Release); err != nil {
			r.logger.WithError(err).WithField("session", id).Warn("Failed to release keep-alive")
		}
	}
	if disconnect != nil {
		err := errors.Recover("disconnect callback", func() error {
			disconnect()
			return nil
		})
		if err != nil {
			r.logger.WithError(err).WithField("session", id).Warn("Disconnect callback failed")
		}
	}
	r.logger.WithField("session", id).Info("Session cleaned up")
	return true
}

// CleanupAll cleans up every session present when it is called.
func (r *Registry) CleanupAll() int {
	r.mu.Lock()
	ids := make([]models.SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Cleanup(id) {
			n++
		}
	}
	return n
}

// ValidateRelationship starts verifying that the session's package may act
// for origin. It returns whether the request was accepted; the outcome is
// delivered to the relationship listener and, on success, origin is linked
// to the session.
func (r *Registry) ValidateRelationship(id models.SessionID, relation models.Relation, origin string) bool {
	if r.validator == nil || !relation.Valid() {
		return false
	}
	normalized, ok := urls.Origin(origin)
	if !ok {
		return false
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	var pkg string
	if ok {
		pkg = s.packageName
	}
	r.mu.Unlock()
	if !ok || pkg == "" {
		return false
	}

	r.validator.Verify(r.ctx, pkg, normalized, relation, func(res models.RelationshipResult) {
		r.finishVerification(s, res)
	})
	return true
}

func (r *Registry) finishVerification(s *session, res models.RelationshipResult) {
	r.mu.Lock()
	// The session may have been cleaned up, or replaced under the same id.
	live := r.sessions[s.id] == s
	if live && res.Verified {
		s.addOrigin(res.Origin)
	}
	r.mu.Unlock()

	if res.Verified {
		r.metrics.RecordEvent(metrics.RelationshipVerified, 1)
	} else {
		r.metrics.RecordEvent(metrics.RelationshipFailed, 1)
	}
	r.logger.WithFields(logrus.Fields{
		"session":  s.id,
		"origin":   res.Origin,
		"relation": res.Relation,
		"verified": res.Verified,
	}).Info("Relationship verification finished")

	if !live || r.onRelationship == nil {
		return
	}
	err := errors.Recover("relationship listener", func() error {
		r.onRelationship(s.id, res)
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Warn("Relationship listener failed")
	}
}

// IsLinked reports whether origin was verified for the session.
func (r *Registry) IsLinked(id models.SessionID, origin string) bool {
	normalized, ok := urls.Origin(origin)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return ok && s.hasOrigin(normalized)
}

// KeepAlive binds k to the session until DontKeepAlive or cleanup. A session
// that already has a binding keeps it and k is released.
func (r *Registry) KeepAlive(id models.SessionID, k KeepAlive) bool {
	if k == nil {
		return false
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	alreadyBound := ok && s.keepAlive() != nil
	if ok && !alreadyBound {
		s.setKeepAlive(k)
	}
	r.mu.Unlock()

	if alreadyBound {
		if err := errors.Recover("keep-alive release", k.Release); err != nil {
			r.logger.WithError(err).Warn("Failed to release duplicate keep-alive")
		}
	}
	return ok
}

// DontKeepAlive releases the session's keep-alive binding, if any.
func (r *Registry) DontKeepAlive(id models.SessionID) {
	r.mu.Lock()
	var k KeepAlive
	if s, ok := r.sessions[id]; ok {
		k = s.keepAlive()
		s.setKeepAlive(nil)
	}
	r.mu.Unlock()

	if k != nil {
		if err := errors.Recover("keep-alive release", k.Release); err != nil {
			r.logger.WithError(err).WithField("session", id).Warn("Failed to release keep-alive")
		}
	}
}

// Flags returns the permission flags of a session.
func (r *Registry) Flags(id models.SessionID) (models.PermissionFlags, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return models.PermissionFlags{}, false
	}
	return s.flags(), true
}

// Flag reads one permission flag; unknown sessions read as false.
func (r *Registry) Flag(id models.SessionID, f models.Flag) bool {
	flags, _ := r.Flags(id)
	return flags.Get(f)
}

// SetFlag sets one permission flag of a session.
func (r *Registry) SetFlag(id models.SessionID, f models.Flag, v bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return s.setFlag(f, v)
}

// Referrer returns the session referrer, empty when unset or unknown.
func (r *Registry) Referrer(id models.SessionID) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s.referrer()
	}
	return ""
}

// SetReferrer sets the referrer used for the session's speculations.
func (r *Registry) SetReferrer(id models.SessionID, referrer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.setReferrer(referrer)
	return true
}

// SetPackageNameForTesting overrides the resolved package name.
func (r *Registry) SetPackageNameForTesting(id models.SessionID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.packageName = name
	return true
}
