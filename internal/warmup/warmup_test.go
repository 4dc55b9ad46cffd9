package warmup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/grovetools/tabsd/internal/daemon/engine"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// counts records how often each step ran, in order.
type counts struct {
	mu    sync.Mutex
	order []string
}

func (c *counts) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, name)
}

func (c *counts) n(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.order {
		if o == name {
			n++
		}
	}
	return n
}

func (c *counts) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func countingHooks(c *counts) Hooks {
	return Hooks{
		InitBrowser:          func(context.Context) error { c.hit(StepInitBrowser); return nil },
		PrewarmRenderer:      func(context.Context) error { c.hit(StepPrewarmRenderer); return nil },
		InitNetworkPredictor: func(context.Context) error { c.hit(StepInitNetworkPredictor); return nil },
		LoadThrottle:         func() error { c.hit(StepLoadThrottle); return nil },
	}
}

type queue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queue) post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, fn)
	return true
}

// runOne runs the oldest task and reports whether there was one.
func (q *queue) runOne() bool {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.mu.Unlock()
	t()
	return true
}

func (q *queue) drain() {
	for q.runOne() {
	}
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestFirstWarmupRunsAllStepsInOrder(t *testing.T) {
	c := &counts{}
	q := &queue{}
	s := New(Options{Hooks: countingHooks(c), Post: q.post, Logger: quietLogger()})

	assert.False(t, s.HasBeenCalled())
	require.True(t, s.Warmup(models.Caller{UID: 1000}))
	assert.True(t, s.HasBeenCalled(), "set before the chain runs")
	assert.False(t, s.HasBeenFinished())

	q.drain()
	assert.Equal(t, []string{StepInitBrowser, StepPrewarmRenderer, StepInitNetworkPredictor, StepLoadThrottle}, c.all())
	assert.True(t, s.HasBeenFinished())
}

func TestLaterWarmupsOnlyRunRepeatableSteps(t *testing.T) {
	c := &counts{}
	q := &queue{}
	s := New(Options{Hooks: countingHooks(c), Post: q.post, Logger: quietLogger()})

	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	s.Warmup(models.Caller{UID: 1001})
	q.drain()

	assert.Equal(t, 1, c.n(StepInitBrowser))
	assert.Equal(t, 1, c.n(StepInitNetworkPredictor))
	assert.Equal(t, 1, c.n(StepLoadThrottle))
	assert.Equal(t, 2, c.n(StepPrewarmRenderer))
	assert.Equal(t, 2, s.Status().Calls)
}

func TestConcurrentWarmupRunsOneTimeStepsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := engine.New(store.New(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		e.Start(ctx)
	}()
	defer func() {
		cancel()
		<-exited
	}()

	c := &counts{}
	var finishedTransitions atomic.Int32
	var wasFinished atomic.Bool
	s := New(Options{
		Hooks:  countingHooks(c),
		Post:   e.Post,
		Logger: quietLogger(),
		OnChange: func(st Status) {
			if st.Finished && !wasFinished.Swap(true) {
				finishedTransitions.Add(1)
			}
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(uid int) {
			defer wg.Done()
			assert.True(t, s.Warmup(models.Caller{UID: models.UID(uid)}))
		}(1000 + i)
	}
	wg.Wait()

	// Every step was posted before this task, and each step posts its
	// successor, so flush until the queue settles.
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Do(context.Background(), func() {}))
	}

	assert.Equal(t, 1, c.n(StepInitBrowser))
	assert.Equal(t, 1, c.n(StepInitNetworkPredictor))
	assert.Equal(t, 1, c.n(StepLoadThrottle))
	assert.Equal(t, 2, c.n(StepPrewarmRenderer))
	assert.True(t, s.HasBeenFinished())
	assert.Equal(t, int32(1), finishedTransitions.Load())
}

func TestCancelPendingDropsUnstartedSteps(t *testing.T) {
	c := &counts{}
	q := &queue{}
	s := New(Options{Hooks: countingHooks(c), Post: q.post, Logger: quietLogger()})

	s.Warmup(models.Caller{UID: 1000})
	require.True(t, q.runOne())
	assert.Equal(t, 1, s.CancelPending())
	q.drain()

	assert.Equal(t, []string{StepInitBrowser}, c.all(), "started steps are kept, pending ones dropped")
	assert.True(t, s.HasBeenFinished())
	assert.Equal(t, 0, s.CancelPending())

	// The next call picks up the one-time steps that were dropped, without
	// initializing the browser again.
	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	assert.Equal(t, []string{StepInitBrowser, StepPrewarmRenderer, StepInitNetworkPredictor, StepLoadThrottle}, c.all())

	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	assert.Equal(t, 1, c.n(StepInitNetworkPredictor))
	assert.Equal(t, 1, c.n(StepLoadThrottle))
	assert.Equal(t, 2, c.n(StepPrewarmRenderer))
}

func TestCancelBeforeInitRetriesInitOnNextCall(t *testing.T) {
	c := &counts{}
	q := &queue{}
	s := New(Options{Hooks: countingHooks(c), Post: q.post, Logger: quietLogger()})

	s.Warmup(models.Caller{UID: 1000})
	assert.Equal(t, 1, s.CancelPending())
	q.drain()
	assert.Empty(t, c.all())
	assert.True(t, s.HasBeenCalled())
	assert.False(t, s.HasBeenFinished())

	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	assert.Equal(t, 1, c.n(StepInitBrowser))
	assert.Equal(t, 1, c.n(StepLoadThrottle))
	assert.True(t, s.HasBeenFinished())
}

func TestWarmupDeniedForBackgroundCaller(t *testing.T) {
	c := &counts{}
	q := &queue{}
	hooks := countingHooks(c)
	hooks.Foreground = func(caller models.Caller) bool { return caller.UID == 1000 }
	s := New(Options{Hooks: hooks, Post: q.post, Logger: quietLogger()})

	assert.False(t, s.Warmup(models.Caller{UID: 2000}))
	assert.False(t, s.HasBeenCalled())
	q.drain()
	assert.Empty(t, c.all())

	assert.True(t, s.Warmup(models.Caller{UID: 1000}))
}

func TestPrewarmSkippedWhileSpeculating(t *testing.T) {
	c := &counts{}
	q := &queue{}
	hooks := countingHooks(c)
	hooks.SpeculationInFlight = func() bool { return true }
	s := New(Options{Hooks: hooks, Post: q.post, Logger: quietLogger()})

	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	assert.Equal(t, 0, c.n(StepPrewarmRenderer))
	assert.Equal(t, 1, c.n(StepInitNetworkPredictor))
}

func TestInitFailureIsFatal(t *testing.T) {
	q := &queue{}
	var fatal error
	s := New(Options{
		Hooks: Hooks{
			InitBrowser: func(context.Context) error { return fmt.Errorf("no chrome") },
			Fatal:       func(err error) { fatal = err },
		},
		Post:   q.post,
		Logger: quietLogger(),
	})

	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	require.Error(t, fatal)
	assert.False(t, s.HasBeenFinished())
}

func TestPanickingStepDoesNotBreakChain(t *testing.T) {
	c := &counts{}
	q := &queue{}
	hooks := countingHooks(c)
	hooks.InitNetworkPredictor = func(context.Context) error { panic("resolver failed") }
	rec := metrics.NewRecorder()
	s := New(Options{Hooks: hooks, Post: q.post, Logger: quietLogger(), Metrics: rec})

	s.Warmup(models.Caller{UID: 1000})
	q.drain()
	assert.Equal(t, 1, c.n(StepLoadThrottle))
	assert.Equal(t, int64(1), rec.Snapshot().Events[metrics.WarmupCalled].Count)
	assert.Equal(t, int64(4), rec.Snapshot().Events[metrics.WarmupStepMs].Count)
}
