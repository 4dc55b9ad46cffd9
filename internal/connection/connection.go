// Package connection is the entry point clients reach through the daemon. It
// ties the session registry, rate limiter, speculation coordinator and warmup
// sequencer together and checks the identity of every caller.
package connection

import (
	"context"
	"sync"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/clients"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/navigation"
	"github.com/grovetools/tabsd/internal/speculation"
	"github.com/grovetools/tabsd/internal/throttle"
	"github.com/grovetools/tabsd/internal/warmup"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/grovetools/tabsd/pkg/process"
	"github.com/grovetools/tabsd/state"
	"github.com/sirupsen/logrus"
)

// Sequencer runs tasks one at a time in submission order.
type Sequencer interface {
	Post(fn func()) bool
	Do(ctx context.Context, fn func()) error
}

// Validator verifies origins and accepts config changes.
type Validator interface {
	clients.OriginValidator
	Apply(cfg config.OriginsConfig) error
}

// Options are the collaborators of a Connection.
type Options struct {
	Config       *config.Config
	Sequencer    Sequencer
	Factory      navigation.Factory
	Preconnector speculation.Preconnector
	Validator    Validator
	Store        *store.Store
	Metrics      metrics.Sink
	Logger       *logrus.Entry
	// ThrottleFile is where rate limiter state is loaded from during warmup.
	ThrottleFile *state.File
	// Self is the daemon's own identity. Defaults to the current process.
	Self *models.Caller
	// Foreground reports whether a caller's process is in the foreground.
	// Defaults to the controlling terminal check.
	Foreground func(models.Caller) bool
	// KeepAlive creates the binding held for a session. Defaults to a
	// binding that only logs.
	KeepAlive func(id models.SessionID, caller models.Caller) (clients.KeepAlive, error)
	// PackageResolver names a caller. Defaults to process.PackageName.
	PackageResolver func(models.Caller) string
}

// Connection serves client requests.
type Connection struct {
	seq       Sequencer
	factory   navigation.Factory
	validator Validator
	store     *store.Store
	metrics   metrics.Sink
	logger    *logrus.Entry
	file      *state.File
	self      models.Caller

	registry    *clients.Registry
	throttle    *throttle.Throttle
	coordinator *speculation.Coordinator
	warmup      *warmup.Sequencer
	keepAlive   func(models.SessionID, models.Caller) (clients.KeepAlive, error)

	mu             sync.RWMutex
	requireWarmup  bool
	backgroundUIDs map[models.UID]bool
	warmOrigins    []string
	foreground     func(models.Caller) bool

	adoptedMu sync.Mutex
	adopted   map[models.SessionID][]navigation.Resource
}

// New wires a Connection from its collaborators.
func New(opts Options) *Connection {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Discard
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = logrus.NewEntry(l)
	}
	st := opts.Store
	if st == nil {
		st = store.New()
	}
	self := process.Self()
	if opts.Self != nil {
		self = *opts.Self
	}
	foreground := opts.Foreground
	if foreground == nil {
		foreground = func(c models.Caller) bool { return process.IsForeground(c.PID) }
	}
	resolver := opts.PackageResolver
	if resolver == nil {
		resolver = process.PackageName
	}

	c := &Connection{
		seq:        opts.Sequencer,
		factory:    opts.Factory,
		validator:  opts.Validator,
		store:      st,
		metrics:    sink,
		logger:     logger,
		file:       opts.ThrottleFile,
		self:       self,
		keepAlive:  opts.KeepAlive,
		foreground: foreground,
		adopted:    make(map[models.SessionID][]navigation.Resource),
	}
	if c.keepAlive == nil {
		c.keepAlive = c.logBinding
	}

	c.throttle = throttle.New(throttle.PolicyFromConfig(cfg.Throttle), sink, logger.WithField("component", "throttle"))

	var validator clients.OriginValidator
	if opts.Validator != nil {
		validator = opts.Validator
	}
	c.registry = clients.New(clients.Options{
		Limiter:         c.throttle,
		Validator:       validator,
		Metrics:         sink,
		Logger:          logger.WithField("component", "clients"),
		DefaultFlags:    defaultFlags(cfg),
		PackageResolver: resolver,
		OnRelationship:  c.relationshipVerified,
	})

	c.coordinator = speculation.New(speculation.Options{
		Factory:      opts.Factory,
		Preconnector: opts.Preconnector,
		Sessions:     c.registry,
		Policy:       speculation.PolicyFromConfig(cfg.Policy),
		Metrics:      sink,
		Logger:       logger.WithField("component", "speculation"),
		Post:         opts.Sequencer.Post,
		OnChange:     c.speculationChanged,
	})

	c.warmup = warmup.New(warmup.Options{
		Hooks: warmup.Hooks{
			Foreground:          c.foregroundOrSelf,
			InitBrowser:          c.initBrowser,
			SpeculationInFlight:  c.coordinator.InFlight,
			PrewarmRenderer:      c.prewarm,
			InitNetworkPredictor: c.initNetworkPredictor,
			LoadThrottle:         c.loadThrottle,
		},
		Post:     opts.Sequencer.Post,
		Metrics:  sink,
		Logger:   logger.WithField("component", "warmup"),
		OnChange: c.warmupChanged,
	})

	c.applyPolicy(cfg)
	return c
}

func defaultFlags(cfg *config.Config) models.PermissionFlags {
	if cfg.Speculation.DefaultFlags != nil {
		return *cfg.Speculation.DefaultFlags
	}
	return models.PermissionFlags{CanUseHiddenTab: true}
}

// applyPolicy copies the settings the connection reads on every call.
func (c *Connection) applyPolicy(cfg *config.Config) {
	uids := make(map[models.UID]bool, len(cfg.Policy.BackgroundUIDs))
	for _, uid := range cfg.Policy.BackgroundUIDs {
		uids[models.UID(uid)] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requireWarmup = cfg.Speculation.RequiresWarmup()
	c.backgroundUIDs = uids
	c.warmOrigins = append([]string(nil), cfg.Speculation.WarmOrigins...)
}

// ApplyConfig updates the running connection from a reloaded config. The
// engine and daemon sections need a restart to change.
func (c *Connection) ApplyConfig(cfg *config.Config) error {
	c.applyPolicy(cfg)
	c.throttle.SetPolicy(throttle.PolicyFromConfig(cfg.Throttle))
	c.registry.SetDefaultFlags(defaultFlags(cfg))

	policy := speculation.PolicyFromConfig(cfg.Policy)
	if !c.seq.Post(func() { c.coordinator.SetPolicy(policy) }) {
		return engineStopped()
	}

	if c.validator != nil {
		if err := c.validator.Apply(cfg.Origins); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, "failed to apply origin links")
		}
	}

	c.logger.Info("Configuration applied")
	c.store.Publish(models.Event{Type: models.EventConfigReload})
	return nil
}

// Close abandons pending work and destroys every resource the connection
// still holds.
func (c *Connection) Close(ctx context.Context) {
	c.warmup.CancelPending()
	_ = c.seq.Do(ctx, func() { c.coordinator.Cancel("") })
	c.registry.Close()

	c.adoptedMu.Lock()
	defer c.adoptedMu.Unlock()
	for id, list := range c.adopted {
		for _, res := range list {
			res.Destroy()
		}
		delete(c.adopted, id)
	}
}

// Registry exposes the session registry for read-only views.
func (c *Connection) Registry() *clients.Registry { return c.registry }

// Throttle exposes the rate limiter.
func (c *Connection) Throttle() *throttle.Throttle { return c.throttle }

// Store returns the event store the connection publishes to.
func (c *Connection) Store() *store.Store { return c.store }

// foregroundOrSelf decides who may warm up the process.
func (c *Connection) foregroundOrSelf(caller models.Caller) bool {
	if caller.UID == c.self.UID {
		return true
	}
	c.mu.RLock()
	allowed := c.backgroundUIDs[caller.UID]
	foreground := c.foreground
	c.mu.RUnlock()
	return allowed || foreground(caller)
}

// owned checks that id exists and belongs to caller.
func (c *Connection) owned(id models.SessionID, caller models.Caller) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidSession, "session id is required")
	}
	owner, ok := c.registry.Owner(id)
	if !ok {
		return errors.SessionNotFound(string(id))
	}
	if owner.UID != caller.UID {
		return errors.IdentityMismatch(string(id), uint32(caller.UID))
	}
	return nil
}

// admin checks that caller runs as the daemon's own user.
func (c *Connection) admin(caller models.Caller) error {
	if caller.UID != c.self.UID {
		return errors.New(errors.ErrCodePermissionDenied, "only the daemon user may do this").
			WithDetail("uid", uint32(caller.UID))
	}
	return nil
}

func engineStopped() error {
	return errors.New(errors.ErrCodeDaemonNotRunning, "daemon is shutting down")
}

func (c *Connection) publishSessions() {
	c.store.ApplyUpdate(store.Update{Type: store.UpdateSessions, Source: "connection", Payload: c.registry.List()})
}

func (c *Connection) speculationChanged(status speculation.Status, outcome speculation.Outcome) {
	engine := ""
	if c.factory != nil {
		engine = c.factory.Name()
	}
	c.store.ApplyUpdate(store.Update{
		Type:   store.UpdateSpeculation,
		Source: "speculation",
		Payload: store.SpeculationStatus{
			State:     status.State,
			SessionID: status.SessionID,
			URL:       status.URL,
			Referrer:  status.Referrer,
			HiddenTab: status.HiddenTab,
			Engine:    engine,
			StartedAt: status.StartedAt,
		},
	})

	ev := models.Event{SessionID: status.SessionID, URL: status.URL, Detail: string(outcome)}
	switch outcome {
	case speculation.OutcomeStarted:
		ev.Type = models.EventSpeculationStarted
	case speculation.OutcomeTaken:
		ev.Type = models.EventSpeculationTaken
	default:
		ev.Type = models.EventSpeculationCancelled
	}
	c.store.Publish(ev)
}

func (c *Connection) warmupChanged(s warmup.Status) {
	c.store.ApplyUpdate(store.Update{
		Type:   store.UpdateWarmup,
		Source: "warmup",
		Payload: store.WarmupStatus{
			Called:   s.Called,
			Finished: s.Finished,
			Calls:    s.Calls,
			LastAt:   s.LastAt,
		},
	})
	if s.Finished {
		c.store.Publish(models.Event{Type: models.EventWarmupFinished})
	}
}

func (c *Connection) relationshipVerified(id models.SessionID, res models.RelationshipResult) {
	r := res
	c.store.Publish(models.Event{Type: models.EventRelationshipVerified, SessionID: id, Relationship: &r})
	c.publishSessions()
}

func (c *Connection) initBrowser(ctx context.Context) error {
	if c.factory == nil {
		return nil
	}
	return c.factory.Init(ctx)
}

// initNetworkPredictor preconnects the configured warm origins unless network
// prediction is turned off. It runs on the sequencing context.
func (c *Connection) initNetworkPredictor(ctx context.Context) error {
	if !c.coordinator.Policy().NetworkPrediction {
		c.logger.Debug("Network prediction disabled, skipping warm origins")
		return nil
	}
	c.mu.RLock()
	origins := c.warmOrigins
	c.mu.RUnlock()
	c.preconnectAll(origins)
	return nil
}

func (c *Connection) prewarm(ctx context.Context) error {
	if c.factory == nil {
		return nil
	}
	return c.factory.Prewarm(ctx)
}

func (c *Connection) loadThrottle() error {
	if c.file == nil {
		return nil
	}
	return c.throttle.Load(c.file)
}

// logBinding is the default keep-alive binding.
func (c *Connection) logBinding(id models.SessionID, caller models.Caller) (clients.KeepAlive, error) {
	c.logger.WithFields(logrus.Fields{"session": id, "pid": caller.PID}).Debug("Keep-alive bound")
	return &binding{logger: c.logger, id: id}, nil
}

type binding struct {
	logger *logrus.Entry
	id     models.SessionID
	once   sync.Once
}

func (b *binding) Release() error {
	b.once.Do(func() {
		b.logger.WithField("session", b.id).Debug("Keep-alive released")
	})
	return nil
}
