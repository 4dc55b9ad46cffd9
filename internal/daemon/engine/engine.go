// Package engine runs the daemon's sequencing loop and background collectors.
//
// Tasks posted to the engine run one at a time, in the order they were
// posted, on a single goroutine. Components whose state is only touched from
// tasks need no locks of their own.
package engine

import (
	"context"
	"sync"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/daemon/collector"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Do once the engine has shut down.
var ErrStopped = errors.New(errors.ErrCodeDaemonNotRunning, "engine stopped")

// Engine manages the task loop and all collectors.
type Engine struct {
	store      *store.Store
	collectors []collector.Collector
	logger     *logrus.Entry

	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped chan struct{}
	done    bool
}

// New creates a new Engine instance.
func New(st *store.Store, logger *logrus.Entry) *Engine {
	return &Engine{
		store:   st,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Register adds a collector to the engine.
func (e *Engine) Register(c collector.Collector) {
	e.collectors = append(e.collectors, c)
}

// Post queues fn to run on the task loop and returns immediately. It reports
// false when the engine has stopped and fn will never run.
func (e *Engine) Post(fn func()) bool {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return false
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the task loop and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		// The loop may have run fn just before stopping.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Start runs the task loop and all collectors and blocks until ctx is
// canceled. Tasks still queued at that point are dropped.
func (e *Engine) Start(ctx context.Context) {
	updates := make(chan store.Update, 100)
	var wg sync.WaitGroup

	// 1. Start Update Consumer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-updates:
				e.store.ApplyUpdate(u)
			}
		}
	}()

	// 2. Start Collectors
	for _, c := range e.collectors {
		wg.Add(1)
		go func(col collector.Collector) {
			defer wg.Done()
			e.logger.WithField("collector", col.Name()).Info("Starting collector")
			if err := col.Run(ctx, e.store, updates); err != nil {
				e.logger.WithField("collector", col.Name()).WithError(err).Error("Collector failed")
			}
		}(c)
	}

	// 3. Run the task loop on this goroutine
	e.loop(ctx)

	wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.done = true
		dropped := len(e.tasks)
		e.tasks = nil
		e.mu.Unlock()
		close(e.stopped)
		if dropped > 0 {
			e.logger.WithField("dropped", dropped).Debug("Dropped queued tasks on shutdown")
		}
	}()

	for {
		e.mu.Lock()
		batch := e.tasks
		e.tasks = nil
		e.mu.Unlock()

		for i, task := range batch {
			if ctx.Err() != nil {
				e.requeue(batch[i:])
				return
			}
			e.run(task)
		}

		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}
	}
}

// requeue puts unrun tasks back at the head of the queue.
func (e *Engine) requeue(rest []func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(rest, e.tasks...)
}

func (e *Engine) run(task func()) {
	err := errors.Recover("engine task", func() error {
		task()
		return nil
	})
	if err != nil {
		e.logger.WithError(err).Error("Task panicked")
	}
}

// Store returns the engine's state store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Stopped is closed once the task loop has exited.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}
