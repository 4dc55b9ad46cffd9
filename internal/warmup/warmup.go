// Package warmup runs the process warmup chain: one-time initialization
// until it has completed, plus repeatable preparation on every call.
package warmup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Step names, in chain order.
const (
	StepInitBrowser          = "init_browser"
	StepPrewarmRenderer      = "prewarm_renderer"
	StepInitNetworkPredictor = "init_network_predictor"
	StepLoadThrottle         = "load_throttle"
)

// Hooks are the collaborators the chain drives. Nil hooks are skipped.
type Hooks struct {
	// Foreground reports whether a caller may warm up the process.
	Foreground func(models.Caller) bool
	// InitBrowser starts the navigation engine. Failure is fatal.
	InitBrowser func(ctx context.Context) error
	// SpeculationInFlight makes the prewarm step a no-op while true.
	SpeculationInFlight  func() bool
	PrewarmRenderer      func(ctx context.Context) error
	InitNetworkPredictor func(ctx context.Context) error
	LoadThrottle         func() error
	// Fatal is called when InitBrowser fails. It defaults to logger.Fatal.
	Fatal func(err error)
}

// Status is a snapshot of the sequencer.
type Status struct {
	Called   bool
	Finished bool
	Calls    int
	LastAt   time.Time
}

// Options configures a Sequencer.
type Options struct {
	Hooks   Hooks
	Post    func(func()) bool
	Metrics metrics.Sink
	Logger  *logrus.Entry
	// OnChange is called on the sequencing context when the status changes.
	OnChange func(Status)
	Context  context.Context
}

// Sequencer posts warmup chains onto the sequencing context.
type Sequencer struct {
	hooks    Hooks
	post     func(func()) bool
	metrics  metrics.Sink
	logger   *logrus.Entry
	onChange func(Status)
	ctx      context.Context

	hasBeenCalled   atomic.Bool
	hasBeenFinished atomic.Bool
	// Set by the one-time steps after they ran. Only read and written on
	// the sequencing context, except oneTimeDone which Warmup reads.
	predictorReady bool
	throttleLoaded bool
	oneTimeDone    atomic.Bool

	mu     sync.Mutex
	calls  int
	lastAt time.Time
	chains map[*chain]struct{}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

type chain struct {
	steps     []step
	cancelled atomic.Bool
}

// New creates a Sequencer.
func New(opts Options) *Sequencer {
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Sequencer{
		hooks:    opts.Hooks,
		post:     opts.Post,
		metrics:  sink,
		logger:   logger,
		onChange: opts.OnChange,
		ctx:      ctx,
		chains:   make(map[*chain]struct{}),
	}
	if s.hooks.Fatal == nil {
		s.hooks.Fatal = func(err error) {
			logger.WithError(err).Fatal("Browser initialization failed")
		}
	}
	return s
}

// HasBeenCalled reports whether Warmup has ever been accepted.
func (s *Sequencer) HasBeenCalled() bool { return s.hasBeenCalled.Load() }

// HasBeenFinished reports whether one-time browser initialization completed.
func (s *Sequencer) HasBeenFinished() bool { return s.hasBeenFinished.Load() }

// Warmup queues the warmup chain for caller and returns without waiting.
// Until the one-time steps have all run, every call queues them; each one
// checks on the sequencing context whether it already ran, so they run once
// even when chains overlap or an earlier chain was cancelled. It returns
// false when caller may not warm up.
func (s *Sequencer) Warmup(caller models.Caller) bool {
	if s.hooks.Foreground != nil && !s.hooks.Foreground(caller) {
		return false
	}

	s.hasBeenCalled.Store(true)
	s.metrics.RecordEvent(metrics.WarmupCalled, 1)

	oneTime := !s.oneTimeDone.Load()
	var steps []step
	if oneTime {
		steps = append(steps, step{StepInitBrowser, s.initBrowser})
	}
	steps = append(steps, step{StepPrewarmRenderer, s.prewarmRenderer})
	if oneTime {
		steps = append(steps,
			step{StepInitNetworkPredictor, s.initNetworkPredictor},
			step{StepLoadThrottle, s.loadThrottle},
		)
	}

	c := &chain{steps: steps}
	s.mu.Lock()
	s.calls++
	s.lastAt = time.Now()
	s.chains[c] = struct{}{}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"uid":      caller.UID,
		"one_time": oneTime,
		"steps":    len(steps),
	}).Debug("Warmup queued")

	s.next(c, 0)
	return true
}

// CancelPending drops every step that has not started yet. Steps already
// run are kept.
func (s *Sequencer) CancelPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.chains {
		if !c.cancelled.Swap(true) {
			n++
		}
		delete(s.chains, c)
	}
	return n
}

// Status returns a snapshot of the sequencer.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Called:   s.hasBeenCalled.Load(),
		Finished: s.hasBeenFinished.Load(),
		Calls:    s.calls,
		LastAt:   s.lastAt,
	}
}

// next posts step i of c. Each step posts its successor so that other tasks
// can interleave between steps.
func (s *Sequencer) next(c *chain, i int) {
	if i >= len(c.steps) {
		s.finish(c)
		return
	}
	posted := s.post(func() {
		if c.cancelled.Load() {
			return
		}
		s.runStep(c.steps[i])
		s.next(c, i+1)
	})
	if !posted {
		s.finish(c)
	}
}

func (s *Sequencer) finish(c *chain) {
	s.mu.Lock()
	delete(s.chains, c)
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(s.Status())
	}
}

func (s *Sequencer) runStep(st step) {
	if st.run == nil {
		return
	}
	start := time.Now()
	err := errors.Recover("warmup step "+st.name, func() error {
		return st.run(s.ctx)
	})
	s.metrics.RecordEvent(metrics.WarmupStepMs, time.Since(start).Milliseconds())
	if err != nil {
		s.logger.WithError(err).WithField("step", st.name).Warn("Warmup step failed")
	}
}

func (s *Sequencer) initBrowser(ctx context.Context) error {
	if s.hasBeenFinished.Load() {
		return nil
	}
	if s.hooks.InitBrowser != nil {
		if err := s.hooks.InitBrowser(ctx); err != nil {
			s.hooks.Fatal(err)
			return err
		}
	}
	s.hasBeenFinished.Store(true)
	if s.onChange != nil {
		s.onChange(s.Status())
	}
	return nil
}

func (s *Sequencer) prewarmRenderer(ctx context.Context) error {
	if s.hooks.SpeculationInFlight != nil && s.hooks.SpeculationInFlight() {
		return nil
	}
	if s.hooks.PrewarmRenderer == nil {
		return nil
	}
	return s.hooks.PrewarmRenderer(ctx)
}

func (s *Sequencer) initNetworkPredictor(ctx context.Context) error {
	if s.predictorReady {
		return nil
	}
	s.predictorReady = true
	if s.hooks.InitNetworkPredictor == nil {
		return nil
	}
	return s.hooks.InitNetworkPredictor(ctx)
}

// loadThrottle is the last one-time step.
func (s *Sequencer) loadThrottle(ctx context.Context) error {
	if s.throttleLoaded {
		return nil
	}
	s.throttleLoaded = true
	defer s.oneTimeDone.Store(s.hasBeenFinished.Load())
	if s.hooks.LoadThrottle == nil {
		return nil
	}
	return s.hooks.LoadThrottle()
}
